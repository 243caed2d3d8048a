// Package initramfs builds the zip archive the kernel unpacks at boot. The kernel looks for a member named init.
package initramfs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/klauspost/compress/zip"
	"github.com/twpayne/go-vfs/v4"
)

type Entry struct {
	Name   string
	Size   uint64
	Method string
}

type Result struct {
	Path     string
	Entries  []Entry
	Warnings []string
}

// Listing renders the archive members the way they were written.
func (r *Result) Listing() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Built %s:\n", r.Path)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  %-30s %8d bytes  (%s)\n", e.Name, e.Size, e.Method)
	}
	return b.String()
}

// Package writes out as a deflated zip with init as its first member, followed by extras.
// Missing or non regular extras, names that collapse to nothing and duplicate names are skipped with a warning.
func Package(fs vfs.FS, initBin, out string, extras []schema.Mapping) (*Result, error) {
	if !internalUtils.IsRegularFile(fs, initBin) {
		return nil, fmt.Errorf("%w: %s", constants.ErrInitNotFound, initBin)
	}

	f, err := fs.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	res := &Result{Path: out}
	zw := zip.NewWriter(f)

	seen := map[string]bool{}
	add := func(src, name string) error {
		if err := addFile(fs, zw, src, name); err != nil {
			return err
		}
		seen[name] = true
		internalUtils.Log.Debug().Str("member", name).Str("source", src).Msg("Added to archive")
		return nil
	}

	err = add(initBin, constants.InitMember)
	for _, m := range extras {
		if err != nil {
			break
		}
		name := internalUtils.NormalizeMember(m.Target)
		switch {
		case name == "":
			res.Warnings = append(res.Warnings, fmt.Sprintf("extra %s has an empty archive path, skipping", m.Source))
		case seen[name]:
			res.Warnings = append(res.Warnings, fmt.Sprintf("archive already has a member named %s, skipping %s", name, m.Source))
		case !internalUtils.IsRegularFile(fs, m.Source):
			res.Warnings = append(res.Warnings, fmt.Sprintf("extra file not found or not a regular file, skipping: %s", m.Source))
		default:
			err = add(m.Source, name)
		}
	}

	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// no partial archives
		if rerr := fs.Remove(out); rerr != nil {
			internalUtils.Log.Warn().Err(rerr).Str("archive", out).Msg("Removing incomplete archive")
		}
		return res, fmt.Errorf("writing %s: %w", out, err)
	}

	res.Entries, err = List(fs, out)
	return res, err
}

func addFile(fs vfs.FS, zw *zip.Writer, src, name string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	hdr.Modified = time.Now()
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// List reads back the members of an archive.
func List(fs vfs.FS, path string) ([]Entry, error) {
	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, zf := range zr.File {
		method := "deflated"
		if zf.Method == zip.Store {
			method = "stored"
		}
		entries = append(entries, Entry{Name: zf.Name, Size: zf.UncompressedSize64, Method: method})
	}
	return entries, nil
}
