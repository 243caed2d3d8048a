package utils

import (
	"path/filepath"
	"strings"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
)

// MountToFstab transforms a mount.Mount into a fstab.Mount so we can print it in the report.
func MountToFstab(m mount.Mount, target string) *fstab.Mount {
	opts := map[string]string{}
	for _, o := range m.Options {
		if strings.Contains(o, "=") {
			dat := strings.SplitN(o, "=", 2)
			opts[dat[0]] = dat[1]
		} else {
			opts[o] = ""
		}
	}
	return &fstab.Mount{
		Spec:    m.Source,
		File:    target,
		VfsType: m.Type,
		MntOps:  opts,
		Freq:    0,
		PassNo:  0,
	}
}

// ParseMapping splits host:target. Without a colon the target is the base name of the host path.
// input: /tmp/hello.txt:/etc/hello.txt
// output: /tmp/hello.txt, /etc/hello.txt
func ParseMapping(s string) (source, target string) {
	if idx := strings.Index(s, ":"); idx > 0 && idx < len(s)-1 {
		return s[:idx], s[idx+1:]
	}
	s = strings.TrimSuffix(s, ":")
	return s, filepath.Base(s)
}
