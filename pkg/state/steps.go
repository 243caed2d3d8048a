package state

import (
	"context"
	"fmt"

	cnst "github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/initramfs"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/spectrocloud-labs/herd"
)

// PreflightDagStep checks the inputs before anything is allocated.
// A missing kernel is fatal, a missing init only when RequireInit is set.
// Images built without an init input (flat) skip the init check.
func (s *State) PreflightDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpPreflight, append(opts, herd.WithCallback(func(_ context.Context) error {
		if s.Artifacts.Kernel == "" || !internalUtils.IsRegularFile(s.Fs, s.Artifacts.Kernel) {
			return s.fail(fmt.Errorf("%w: %s", cnst.ErrKernelNotFound, s.Artifacts.Kernel), "preflight")
		}
		if s.Artifacts.Init == "" && !s.Config.RequireInit {
			return nil
		}
		if internalUtils.IsRegularFile(s.Fs, s.Artifacts.Init) {
			return nil
		}
		if s.Config.RequireInit {
			return s.fail(fmt.Errorf("%w: %s", cnst.ErrInitNotFound, s.Artifacts.Init), "preflight")
		}
		internalUtils.Log.Warn().Str("init", s.Artifacts.Init).Msg("init binary not found, continuing without it")
		return nil
	}))...)
}

// AllocateDagStep creates the zero-filled image file.
func (s *State) AllocateDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpAllocate, append(opts, herd.WithCallback(func(_ context.Context) error {
		if s.SizeMB <= 0 || s.SizeMB > cnst.MaxSizeMB {
			return s.fail(fmt.Errorf("%w: %d", cnst.ErrInvalidSize, s.SizeMB), "allocate image")
		}
		size := s.SizeMB * cnst.MiB
		internalUtils.Log.Info().Str("image", s.Output).Int64("size_mb", s.SizeMB).Msg("Allocating image")
		if err := s.Cap.Allocate(s.Output, size); err != nil {
			return s.fail(fmt.Errorf("allocating %s: %w", s.Output, err), "allocate image")
		}
		s.Report.Image = &schema.DiskImage{Path: s.Output, Size: size, Table: schema.TableNone}
		return nil
	}))...)
}

// PartitionDagStep writes the msdos table. Failing here only degrades the image.
func (s *State) PartitionDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpPartitionTable, append(opts, herd.WithCallback(func(ctx context.Context) error {
		img := s.Report.Image
		if img == nil {
			return nil
		}
		if err := s.Cap.Partition(ctx, img.Path); err != nil {
			s.warn("partitioning %s failed, continuing without a partition table: %s", img.Path, err)
			return nil
		}
		img.Table = schema.TableMsdos
		internalUtils.Log.Info().Str("image", img.Path).Msg("Partition table created")
		return nil
	}))...)
}

// AssembleVolumeDagStep attaches, formats and populates the image. Detach and unmount always run.
func (s *State) AssembleVolumeDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpAssembleVolume, append(opts, herd.WithCallback(func(ctx context.Context) error {
		if s.Report.Image == nil {
			return nil
		}
		return s.AssembleVolume(ctx)
	}))...)
}

// PackageInitramfsDagStep writes the zip archive.
func (s *State) PackageInitramfsDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpInitramfs, append(opts, herd.WithCallback(func(_ context.Context) error {
		res, err := initramfs.Package(s.Fs, s.Artifacts.Init, s.Output, s.Artifacts.Extras)
		if res != nil {
			for _, w := range res.Warnings {
				s.warn("%s", w)
			}
		}
		if err != nil {
			return s.fail(err, "package initramfs")
		}
		internalUtils.Log.Info().Str("archive", s.Output).Msg("Initramfs created")
		s.Archive = res
		return nil
	}))...)
}
