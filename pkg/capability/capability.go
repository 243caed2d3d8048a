// Package capability holds the privileged operations the assembly pipeline needs from the outside world.
// Host drives the usual OS tools, Diskfs does the same work in-process on the image file.
package capability

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"golang.org/x/sys/unix"
)

type Capability interface {
	// Allocate creates a zero-filled image of exactly size bytes, replacing any previous file.
	Allocate(path string, size int64) error
	// Partition writes a msdos label with one bootable FAT32 partition from 1MiB to the end.
	Partition(ctx context.Context, image string) error
	// Attach exposes the image as a block device and returns its handle.
	Attach(ctx context.Context, image string) (string, error)
	Detach(ctx context.Context, device string) error
	// Exists reports whether a device handle (typically a partition sub-device) is usable.
	Exists(device string) bool
	// Format creates a FAT32 filesystem on device with the named tool.
	Format(ctx context.Context, tool, device string) error
	Mount(ctx context.Context, device, target string) error
	Unmount(ctx context.Context, target string) error
}

// New returns the capability for the named backend.
func New(backend string, r internalUtils.Runner) (Capability, error) {
	switch backend {
	case constants.BackendHost, "":
		return NewHost(r), nil
	case constants.BackendDiskfs:
		return NewDiskfs(), nil
	default:
		return nil, fmt.Errorf("%w: %s", constants.ErrUnknownBackend, backend)
	}
}

// AllocateImage claims size bytes on disk for path. The file is removed again if the space can't be claimed.
func AllocateImage(path string, size int64) (err error) {
	if size <= 0 {
		return constants.ErrInvalidSize
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old image: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if ferr := unix.Fallocate(int(f.Fd()), 0, 0, size); ferr != nil {
		if !errors.Is(ferr, unix.EOPNOTSUPP) && !errors.Is(ferr, unix.ENOSYS) {
			return fmt.Errorf("claiming %d bytes for %s: %w", size, path, ferr)
		}
		internalUtils.Log.Debug().Err(ferr).Str("image", path).Msg("fallocate not supported, using a sparse file")
	}
	return f.Truncate(size)
}
