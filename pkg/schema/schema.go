package schema

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/deniswernert/go-fstab"
	"github.com/hashicorp/go-multierror"
)

type PartitionTableKind string

const (
	TableNone  PartitionTableKind = "none"
	TableMsdos PartitionTableKind = "msdos"
)

// DiskImage is a raw image file. Size never changes after allocation.
type DiskImage struct {
	Path  string
	Size  int64
	Table PartitionTableKind
}

// LoopAttachment binds a DiskImage to a block device handle.
type LoopAttachment struct {
	Image  *DiskImage
	Device string
	// Partition is the first partition sub-device, empty when it could not be found.
	Partition string
}

// Target is the device format and mount act on.
func (l *LoopAttachment) Target() string {
	if l.Partition != "" {
		return l.Partition
	}
	return l.Device
}

// Mapping copies a host file into the staged tree (or archive) at Target.
type Mapping struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// ArtifactSpec is the set of inputs to stage. Missing Init is tolerated, missing Kernel is not.
type ArtifactSpec struct {
	Kernel string    `yaml:"kernel,omitempty"`
	Init   string    `yaml:"init,omitempty"`
	Extras []Mapping `yaml:"extras,omitempty"`
}

type StagedFile struct {
	Path string
	Size int64
}

// StagedTree is what ended up on the boot volume, paths relative to the volume root.
type StagedTree struct {
	MountPoint string
	Mount      *fstab.Mount
	Dirs       []string
	Files      []StagedFile
}

// String renders the tree with two spaces of indentation per level, directories with a trailing slash.
func (t *StagedTree) String() string {
	type entry struct {
		path string
		line string
	}
	var entries []entry
	for _, d := range t.Dirs {
		entries = append(entries, entry{d, fmt.Sprintf("%s%s/", indent(d), path.Base(d))})
	}
	for _, f := range t.Files {
		entries = append(entries, entry{f.Path, fmt.Sprintf("%s%s (%d bytes)", indent(f.Path), path.Base(f.Path), f.Size)})
	}
	// compare component by component so /bin/x sorts before /bin-x
	key := func(p string) string { return strings.ReplaceAll(p, "/", "\x00") }
	sort.SliceStable(entries, func(i, j int) bool { return key(entries[i].path) < key(entries[j].path) })

	var b strings.Builder
	b.WriteString("  /\n")
	for _, e := range entries {
		b.WriteString(e.line)
		b.WriteString("\n")
	}
	return b.String()
}

func indent(p string) string {
	depth := strings.Count(strings.Trim(p, "/"), "/") + 1
	return strings.Repeat("  ", depth+1)
}

// HasFile reports whether p was staged.
func (t *StagedTree) HasFile(p string) bool {
	for _, f := range t.Files {
		if f.Path == p {
			return true
		}
	}
	return false
}

// Report is the outcome of a run: what was built, what degraded and what failed.
type Report struct {
	RunID      string
	Image      *DiskImage
	Attachment *LoopAttachment
	Formatted  bool
	FormatTool string
	Tree       *StagedTree
	Warnings   []string
	errors     *multierror.Error
}

func (r *Report) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) Fail(err error) {
	if err != nil {
		r.errors = multierror.Append(r.errors, err)
	}
}

// Err is nil when the run succeeded, possibly with warnings.
func (r *Report) Err() error {
	return r.errors.ErrorOrNil()
}

// Config is the resolved runtime configuration.
type Config struct {
	Backend        string
	WorkDir        string
	FormatTool     string
	FormatFallback string
	ToolTimeout    time.Duration
	StrictFormat   bool
	RequireInit    bool
}
