package state

import (
	"context"
	"fmt"
	"path/filepath"

	cnst "github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/containerd/containerd/mount"
	"github.com/hashicorp/go-multierror"
	"github.com/twpayne/go-vfs/v4"
)

// AssembleVolume attaches the image, formats the first partition (or the whole device when the
// partition node never shows up), stages the boot tree and releases everything it acquired.
func (s *State) AssembleVolume(ctx context.Context) error {
	img := s.Report.Image
	device, err := s.Cap.Attach(ctx, img.Path)
	if err != nil {
		return s.fail(fmt.Errorf("attaching %s: %w", img.Path, err), "attach image")
	}
	att := &schema.LoopAttachment{Image: img, Device: device}
	s.Report.Attachment = att
	internalUtils.Log.Info().Str("image", img.Path).Str("device", device).Msg("Image attached")
	// teardown must survive a cancelled run
	defer s.detach(context.WithoutCancel(ctx), att)

	if candidate := device + cnst.PartitionSuffix; s.Cap.Exists(candidate) {
		att.Partition = candidate
	} else {
		s.warn("partition device %s not found, using whole device %s", candidate, device)
	}

	if err := s.format(ctx, att.Target()); err != nil {
		if s.Config.StrictFormat {
			return s.fail(err, "format volume")
		}
		s.warn("%s, trying to mount anyway", err)
	}

	return s.stageVolume(ctx, att.Target())
}

func (s *State) detach(ctx context.Context, att *schema.LoopAttachment) {
	if err := s.Cap.Detach(ctx, att.Device); err != nil {
		s.warn("detaching %s failed: %s", att.Device, err)
		return
	}
	internalUtils.Log.Info().Str("device", att.Device).Msg("Device detached")
}

// format tries the primary tool, then the alternate one.
func (s *State) format(ctx context.Context, device string) error {
	tools := internalUtils.UniqueSlice(internalUtils.CleanupSlice([]string{s.Config.FormatTool, s.Config.FormatFallback}))
	if len(tools) == 0 {
		tools = []string{cnst.PrimaryFormatTool, cnst.AlternateFormatTool}
	}
	var errs error
	for _, tool := range tools {
		err := s.Cap.Format(ctx, tool, device)
		if err == nil {
			s.Report.Formatted = true
			s.Report.FormatTool = tool
			internalUtils.Log.Info().Str("device", device).Str("tool", tool).Msg("Formatted FAT32")
			return nil
		}
		internalUtils.Log.Warn().Err(err).Str("device", device).Str("tool", tool).Msg("Formatting failed")
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", tool, err))
	}
	return fmt.Errorf("%w on %s: %w", cnst.ErrFormatFailed, device, errs)
}

// stageVolume mounts device on a private mount point, fills it and unmounts it whatever happened in between.
func (s *State) stageVolume(ctx context.Context, device string) (err error) {
	mnt := filepath.Join(s.Config.WorkDir, "mnt-"+s.Report.RunID)
	if err = internalUtils.CreateIfNotExists(s.Fs, mnt); err != nil {
		return s.fail(fmt.Errorf("creating mount point %s: %w", mnt, err), "stage volume")
	}
	target, err := s.Fs.RawPath(mnt)
	if err != nil {
		return s.fail(err, "stage volume")
	}

	if err = s.Cap.Mount(ctx, device, target); err != nil {
		_ = s.Fs.Remove(mnt)
		return s.fail(fmt.Errorf("mounting %s on %s: %w", device, target, err), "mount volume")
	}
	internalUtils.Log.Info().Str("device", device).Str("where", target).Msg("Volume mounted")

	tree := &schema.StagedTree{
		MountPoint: target,
		Mount:      internalUtils.MountToFstab(mount.Mount{Type: cnst.FatType, Source: device, Options: []string{"rw"}}, target),
	}
	s.Report.Tree = tree

	defer func() {
		if uerr := s.Cap.Unmount(context.WithoutCancel(ctx), target); uerr != nil {
			uerr = fmt.Errorf("unmounting %s: %w", target, uerr)
			internalUtils.Log.Error().Err(uerr).Str("device", device).Str("where", target).
				Msg("VOLUME IS STILL MOUNTED, the device cannot be detached until it is unmounted by hand")
			s.Report.Fail(uerr)
			err = multierror.Append(err, uerr)
			return
		}
		internalUtils.Log.Info().Str("where", target).Msg("Volume unmounted")
		s.LogIfError(s.Fs.RemoveAll(mnt), "removing mount point")
	}()

	return s.stage(vfs.NewPathFS(s.Fs, mnt), tree)
}
