package constants

import (
	"errors"
	"math"
	"time"
)

// DefaultLayoutDirs are created on the boot volume before anything is copied into it.
func DefaultLayoutDirs() []string {
	return []string{"/bin", "/usr", "/boot/grub"}
}

var (
	ErrAlreadyMounted    = errors.New("already mounted")
	ErrKernelNotFound    = errors.New("kernel image not found")
	ErrInitNotFound      = errors.New("init binary not found")
	ErrInvalidSize       = errors.New("image size must be a positive number of MiB")
	ErrNoLoopDevice      = errors.New("could not attach image to a loop device")
	ErrAlreadyAttached   = errors.New("image already attached")
	ErrNotAttached       = errors.New("device not attached")
	ErrFormatFailed      = errors.New("formatting failed with every tool")
	ErrNotImplemented    = errors.New("UEFI disk images not yet implemented")
	ErrUnknownBackend    = errors.New("unknown capability backend")
	ErrUnsupportedFormat = errors.New("unsupported formatting tool")
)

const (
	OpPreflight      = "preflight"
	OpAllocate       = "allocate-image"
	OpPartitionTable = "partition-table"
	OpAssembleVolume = "assemble-volume"
	OpInitramfs      = "package-initramfs"

	MiB = 1024 * 1024
	// MaxSizeMB is the largest size whose byte count still fits an int64.
	MaxSizeMB = math.MaxInt64 / MiB

	DefaultDiskSizeMB = 256
	DefaultFlatSizeMB = 128
	DefaultInitramfs  = "initramfs.zip"

	// PartitionSuffix is appended to a loop device to name its first partition.
	PartitionSuffix = "p1"
	// PartitionStartSector leaves the first MiB of the image unused for alignment.
	PartitionStartSector = 2048
	SectorSize           = 512

	PrimaryFormatTool   = "mkfs.fat"
	AlternateFormatTool = "mkfs.vfat"
	FatBits             = "32"
	FatType             = "vfat"
	VolumeLabel         = "ARKBOOT"

	StagedInit   = "/bin/init.bin"
	StagedKernel = "/bzImage"
	GrubConfig   = "/boot/grub/grub.cfg"
	KernelName   = "bzImage"
	InitMember   = "init"
	MenuTitle    = "Ark OS"

	DefaultToolTimeout = 120 * time.Second
	DefaultConfigFile  = "/etc/arkimage/arkimage.env"

	BackendHost   = "host"
	BackendDiskfs = "diskfs"
)
