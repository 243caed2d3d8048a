package state

import (
	"fmt"
	iofs "io/fs"
	"path"

	cnst "github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/hashicorp/go-multierror"
	"github.com/twpayne/go-vfs/v4"
)

// stage lays out the boot tree on root, the mounted volume.
// Missing init or kernel only warn. Anything that fails to be written is an error.
func (s *State) stage(root vfs.FS, tree *schema.StagedTree) error {
	for _, d := range cnst.DefaultLayoutDirs() {
		if err := internalUtils.CreateIfNotExists(root, d); err != nil {
			// Nothing can be copied without the layout
			return s.fail(fmt.Errorf("creating %s: %w", d, err), "stage layout")
		}
	}

	var errs error
	errs = appendErr(errs, s.copyArtifact(root, s.Artifacts.Init, cnst.StagedInit, "init binary"))
	errs = appendErr(errs, s.copyArtifact(root, s.Artifacts.Kernel, cnst.StagedKernel, "kernel"))

	cfg, err := s.Grub.Render()
	if err == nil {
		err = root.WriteFile(cnst.GrubConfig, []byte(cfg), 0o644)
	}
	if err != nil {
		errs = appendErr(errs, fmt.Errorf("writing %s: %w", cnst.GrubConfig, err))
	} else {
		internalUtils.Log.Debug().Str("where", cnst.GrubConfig).Msg("Boot config written")
	}

	for _, m := range s.Artifacts.Extras {
		name := internalUtils.NormalizeMember(m.Target)
		if name == "" {
			s.warn("extra %s has an empty target, skipping", m.Source)
			continue
		}
		dst := "/" + name
		if err := internalUtils.CreateIfNotExists(root, path.Dir(dst)); err != nil {
			errs = appendErr(errs, fmt.Errorf("creating %s: %w", path.Dir(dst), err))
			continue
		}
		errs = appendErr(errs, s.copyArtifact(root, m.Source, dst, "extra file"))
	}

	if err := fillTree(root, tree); err != nil {
		s.LogIfError(err, "listing staged tree")
	} else {
		internalUtils.Log.Info().Msg("Staged volume contents:\n" + tree.String())
	}

	if errs != nil {
		return s.fail(errs, "stage volume")
	}
	return nil
}

// copyArtifact copies src to dst on root. A missing or non regular src is a warning, not an error.
func (s *State) copyArtifact(root vfs.FS, src, dst, what string) error {
	if src == "" || !internalUtils.IsRegularFile(s.Fs, src) {
		s.warn("%s %q not found or not a regular file, %s not staged", what, src, dst)
		return nil
	}
	n, err := internalUtils.CopyFile(s.Fs, src, root, dst)
	if err != nil {
		return fmt.Errorf("staging %s: %w", what, err)
	}
	internalUtils.Log.Info().Str("from", src).Str("to", dst).Int64("bytes", n).Msg("Copied " + what)
	return nil
}

func fillTree(root vfs.FS, tree *schema.StagedTree) error {
	tree.Dirs, tree.Files = nil, nil
	return vfs.Walk(root, "/", func(p string, info iofs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == "/" {
			return nil
		}
		if info.IsDir() {
			tree.Dirs = append(tree.Dirs, p)
		} else {
			tree.Files = append(tree.Files, schema.StagedFile{Path: p, Size: info.Size()})
		}
		return nil
	})
}

func appendErr(errs, err error) error {
	if err == nil {
		return errs
	}
	return multierror.Append(errs, err)
}
