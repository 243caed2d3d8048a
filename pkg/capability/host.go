package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/op"
	"github.com/avast/retry-go"
	"github.com/containerd/containerd/mount"
	"github.com/moby/sys/mountinfo"
	"github.com/twpayne/go-vfs/v4"
)

// Host uses parted, losetup, mkfs and mount(2). Needs root.
type Host struct {
	Runner internalUtils.Runner
	Fs     vfs.FS
	// Attempts and Delay bound the wait for udev to create partition nodes and for busy loop devices.
	Attempts     uint
	Delay        time.Duration
	MountTimeout time.Duration
}

func NewHost(r internalUtils.Runner) *Host {
	if r == nil {
		r = internalUtils.Console{Timeout: constants.DefaultToolTimeout}
	}
	return &Host{
		Runner:       r,
		Fs:           vfs.OSFS,
		Attempts:     5,
		Delay:        200 * time.Millisecond,
		MountTimeout: 10 * time.Second,
	}
}

func (h *Host) retryOpts(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(h.Attempts),
		retry.Delay(h.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

func (h *Host) Allocate(path string, size int64) error {
	return AllocateImage(path, size)
}

func (h *Host) Partition(ctx context.Context, image string) error {
	return internalUtils.RunAll(ctx, h.Runner, [][]string{
		{"parted", "-s", image, "mklabel", "msdos"},
		{"parted", "-s", image, "mkpart", "primary", "fat32", "1MiB", "100%"},
		{"parted", "-s", image, "set", "1", "boot", "on"},
	})
}

func (h *Host) Attach(ctx context.Context, image string) (string, error) {
	out, err := h.Runner.Run(ctx, "losetup", "--find", "--show", "--partscan", image)
	if err != nil {
		// Only to tell the user which device we were after
		if free, ferr := h.Runner.Run(ctx, "losetup", "--find"); ferr == nil && strings.TrimSpace(free) != "" {
			err = fmt.Errorf("%w (next free device: %s)", err, strings.TrimSpace(free))
		}
		return "", fmt.Errorf("%w: %w", constants.ErrNoLoopDevice, err)
	}
	device := strings.TrimSpace(out)
	if device == "" {
		return "", fmt.Errorf("%w: losetup returned no device for %s", constants.ErrNoLoopDevice, image)
	}
	return device, nil
}

func (h *Host) Detach(ctx context.Context, device string) error {
	return retry.Do(func() error {
		_, err := h.Runner.Run(ctx, "losetup", "-d", device)
		return err
	}, append(h.retryOpts(ctx), retry.OnRetry(func(n uint, err error) {
		internalUtils.Log.Debug().Uint("attempt", n).Err(err).Str("device", device).Msg("Retrying detach")
	}))...)
}

func (h *Host) Exists(device string) bool {
	err := retry.Do(func() error {
		_, err := h.Fs.Stat(device)
		return err
	}, h.retryOpts(context.Background())...)
	return err == nil
}

func (h *Host) Format(ctx context.Context, tool, device string) error {
	out, err := h.Runner.Run(ctx, tool, "-F", constants.FatBits, "-n", constants.VolumeLabel, device)
	if err != nil {
		internalUtils.Log.Debug().Str("output", out).Str("tool", tool).Msg("Format output")
	}
	return err
}

func (h *Host) Mount(ctx context.Context, device, target string) error {
	_, err := op.MountWithTimeout(ctx, h.Fs, device, target, constants.FatType, []string{"rw"}, h.MountTimeout)
	return err
}

func (h *Host) Unmount(_ context.Context, target string) error {
	if err := mount.UnmountAll(target, 0); err != nil {
		return fmt.Errorf("unmounting %s: %w", target, err)
	}
	mounted, err := mountinfo.Mounted(filepath.Clean(target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if mounted {
		return fmt.Errorf("%s is still mounted", target)
	}
	return nil
}
