package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/twpayne/go-vfs/v4"
)

// CreateIfNotExists creates the directory (and parents) if missing.
func CreateIfNotExists(fs vfs.FS, path string) error {
	info, err := fs.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%s exists and is not a directory", path)
	case errors.Is(err, os.ErrNotExist):
		return vfs.MkdirAll(fs, path, 0o755)
	default:
		return err
	}
}

// IsRegularFile reports whether path is a plain file on fs. Directories, devices and broken links are not.
func IsRegularFile(fs vfs.FS, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CopyFile copies src from srcFs into dst on dstFs, truncating dst. It returns the bytes copied.
func CopyFile(srcFs vfs.FS, src string, dstFs vfs.FS, dst string) (int64, error) {
	in, err := srcFs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := dstFs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return n, out.Close()
}

// UniqueSlice removes duplicated entries from a slice
func UniqueSlice(slice []string) []string {
	keys := make(map[string]bool)
	var list []string
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

// CleanupSlice will clean a slice of strings of empty items
// Typos can be made on writing the cos-layout.env file and that could introduce empty items
// In the lists that we need to go over, which causes bad stuff.
func CleanupSlice(slice []string) []string {
	var cleanSlice []string
	for _, item := range slice {
		if strings.Trim(item, " ") == "" {
			continue
		}
		cleanSlice = append(cleanSlice, item)
	}
	return cleanSlice
}

// ReadEnv will read an env file (key=value) and return a nice map.
func ReadEnv(file string) (map[string]string, error) {
	var envMap map[string]string
	var err error

	f, err := os.Open(file)
	if err != nil {
		return envMap, err
	}
	defer f.Close()

	envMap, err = godotenv.Parse(f)
	if err != nil {
		return envMap, err
	}

	return envMap, err
}

// NormalizeMember turns a path into the root relative form used inside archives: no leading slash, cleaned.
// Returns an empty string for paths that resolve to the root itself.
func NormalizeMember(p string) string {
	p = filepath.ToSlash(filepath.Clean("/" + p))
	return strings.TrimPrefix(p, "/")
}
