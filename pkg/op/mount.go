package op

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
	"github.com/twpayne/go-vfs/v4"
)

// MountWithTimeout mounts what on where, retrying until timeout. Freshly attached loop partitions
// can take a moment before the kernel accepts them.
// Returns the fstab entry describing the mount.
func MountWithTimeout(ctx context.Context, fs vfs.FS, what, where, t string, options []string, timeout time.Duration) (*fstab.Mount, error) {
	l := internalUtils.Log.With().Str("what", what).Str("where", where).Str("type", t).Strs("options", options).Logger()
	cc := time.After(timeout)
	var lastErr error
	for {
		select {
		default:
			err := internalUtils.CreateIfNotExists(fs, where)
			if err != nil {
				l.Err(err).Msg("Creating dir")
				return nil, err
			}
			mountPoint := mount.Mount{
				Type:    t,
				Source:  what,
				Options: options,
			}
			tmpFstab := internalUtils.MountToFstab(mountPoint, where)
			op := MountOperation{
				MountOption: mountPoint,
				FstabEntry:  *tmpFstab,
				Target:      where,
			}

			err = op.Run()
			// Someone else mounting our private, freshly created dir is not something we can build on
			if errors.Is(err, constants.ErrAlreadyMounted) {
				return nil, err
			}
			if err != nil {
				lastErr = err
				l.Debug().Err(err).Msg("mount failed, retrying")
				time.Sleep(500 * time.Millisecond)
				continue
			}
			l.Info().Msg("mount done")
			return tmpFstab, nil
		case <-ctx.Done():
			e := fmt.Errorf("context canceled: %w", ctx.Err())
			l.Err(e).Msg("mount canceled")
			return nil, e
		case <-cc:
			e := errors.New("timeout exhausted")
			if lastErr != nil {
				e = fmt.Errorf("%w: %w", e, lastErr)
			}
			l.Err(e).Msg("Mount timeout")
			return nil, e
		}
	}
}
