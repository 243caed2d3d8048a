package capability

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
)

const diskfsPrefix = "diskfs:"

// Diskfs edits the image file directly, so it runs unprivileged.
// Devices are handles of the form diskfs:<image>: for the whole image and diskfs:<image>:p1 for the partition.
// Mount hands out a plain directory that is written into the FAT volume on Unmount. The volume is
// assumed freshly formatted, its previous content is not read back into the directory.
type Diskfs struct {
	mu       sync.Mutex
	attached map[string]bool
	mounted  map[string]string
}

func NewDiskfs() *Diskfs {
	return &Diskfs{
		attached: map[string]bool{},
		mounted:  map[string]string{},
	}
}

func diskfsHandle(image string) string {
	return diskfsPrefix + image + ":"
}

// parseHandle returns the image and the partition number, 0 being the whole image.
func parseHandle(device string) (string, int, error) {
	rest, ok := strings.CutPrefix(device, diskfsPrefix)
	idx := strings.LastIndex(rest, ":")
	if !ok || idx < 0 {
		return "", 0, fmt.Errorf("not a diskfs device: %s", device)
	}
	switch rest[idx+1:] {
	case "":
		return rest[:idx], 0, nil
	case constants.PartitionSuffix:
		return rest[:idx], 1, nil
	default:
		return "", 0, fmt.Errorf("unknown partition in %s", device)
	}
}

func (d *Diskfs) Allocate(path string, size int64) error {
	return AllocateImage(path, size)
}

func (d *Diskfs) Partition(_ context.Context, image string) error {
	dsk, err := diskfs.Open(image)
	if err != nil {
		return fmt.Errorf("failed to open disk: %w", err)
	}
	defer dsk.Close()

	sectors := dsk.Size / constants.SectorSize
	if sectors <= constants.PartitionStartSector {
		return fmt.Errorf("image %s too small for a partition table", image)
	}
	table := &mbr.Table{
		LogicalSectorSize:  constants.SectorSize,
		PhysicalSectorSize: constants.SectorSize,
		Partitions: []*mbr.Partition{
			{
				Bootable: true,
				Type:     mbr.Fat32LBA,
				Start:    constants.PartitionStartSector,
				Size:     uint32(sectors - constants.PartitionStartSector),
			},
		},
	}
	return dsk.Partition(table)
}

func (d *Diskfs) Attach(_ context.Context, image string) (string, error) {
	abs, err := filepath.Abs(image)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: %w", constants.ErrNoLoopDevice, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached[abs] {
		return "", fmt.Errorf("%w: %s", constants.ErrAlreadyAttached, abs)
	}
	d.attached[abs] = true
	return diskfsHandle(abs), nil
}

func (d *Diskfs) Detach(_ context.Context, device string) error {
	image, part, err := parseHandle(device)
	if err != nil {
		return err
	}
	if part != 0 {
		return fmt.Errorf("detach the whole device, not %s", device)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached[image] {
		return fmt.Errorf("%w: %s", constants.ErrNotAttached, device)
	}
	delete(d.attached, image)
	return nil
}

func (d *Diskfs) Exists(device string) bool {
	image, part, err := parseHandle(device)
	if err != nil {
		return false
	}
	d.mu.Lock()
	live := d.attached[image]
	d.mu.Unlock()
	if !live {
		return false
	}
	if part == 0 {
		return true
	}
	dsk, err := diskfs.Open(image, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return false
	}
	defer dsk.Close()
	table, err := dsk.GetPartitionTable()
	if err != nil || table == nil {
		return false
	}
	return len(table.GetPartitions()) >= part
}

func (d *Diskfs) Format(_ context.Context, tool, device string) error {
	switch filepath.Base(tool) {
	case constants.PrimaryFormatTool, constants.AlternateFormatTool, "mkdosfs":
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedFormat, tool)
	}
	image, part, err := parseHandle(device)
	if err != nil {
		return err
	}
	dsk, err := diskfs.Open(image)
	if err != nil {
		return fmt.Errorf("failed to open disk: %w", err)
	}
	defer dsk.Close()
	_, err = dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   part,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: constants.VolumeLabel,
	})
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	return nil
}

func (d *Diskfs) Mount(_ context.Context, device, target string) error {
	image, part, err := parseHandle(device)
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", target)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached[image] {
		return fmt.Errorf("%w: %s", constants.ErrNotAttached, device)
	}
	if _, ok := d.mounted[target]; ok {
		return fmt.Errorf("%w: %s", constants.ErrAlreadyMounted, target)
	}

	// Refuse what the kernel would refuse: no FAT volume, no mount
	dsk, err := diskfs.Open(image, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return fmt.Errorf("failed to open disk: %w", err)
	}
	defer dsk.Close()
	if _, err := dsk.GetFilesystem(part); err != nil {
		return fmt.Errorf("no filesystem on %s: %w", device, err)
	}
	d.mounted[target] = device
	return nil
}

func (d *Diskfs) Unmount(_ context.Context, target string) error {
	d.mu.Lock()
	device, ok := d.mounted[target]
	delete(d.mounted, target)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s is not mounted", target)
	}
	return commit(device, target)
}

// commit writes the content of dir into the FAT volume behind device.
func commit(device, dir string) error {
	image, part, err := parseHandle(device)
	if err != nil {
		return err
	}
	dsk, err := diskfs.Open(image)
	if err != nil {
		return fmt.Errorf("failed to open disk: %w", err)
	}
	defer dsk.Close()
	fat, err := dsk.GetFilesystem(part)
	if err != nil {
		return fmt.Errorf("failed to get filesystem: %w", err)
	}

	return filepath.WalkDir(dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		dst := "/" + filepath.ToSlash(rel)
		switch {
		case de.IsDir():
			if err := fat.Mkdir(dst); err != nil && !os.IsExist(err) {
				return fmt.Errorf("creating %s: %w", dst, err)
			}
		case de.Type().IsRegular():
			internalUtils.Log.Debug().Str("file", dst).Str("device", device).Msg("Writing file to volume")
			return writeFile(fat, p, dst)
		default:
			internalUtils.Log.Warn().Str("file", dst).Msg("Skipping non regular file, FAT cannot hold it")
		}
		return nil
	})
}

func writeFile(fat filesystem.FileSystem, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fat.OpenFile(dst, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
