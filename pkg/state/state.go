package state

import (
	"fmt"
	"strings"

	"github.com/arkos-project/arkimage/internal/constants"
	internalUtils "github.com/arkos-project/arkimage/internal/utils"
	"github.com/arkos-project/arkimage/pkg/capability"
	"github.com/arkos-project/arkimage/pkg/grub"
	"github.com/arkos-project/arkimage/pkg/initramfs"
	"github.com/arkos-project/arkimage/pkg/schema"
	"github.com/gofrs/uuid"
	"github.com/spectrocloud-labs/herd"
	"github.com/twpayne/go-vfs/v4"
)

type State struct {
	Cap    capability.Capability
	Fs     vfs.FS // where artifacts are read from and mount points are created
	Config schema.Config

	Artifacts schema.ArtifactSpec
	Output    string // image or archive path
	SizeMB    int64
	Grub      grub.Config

	Report  *schema.Report
	Archive *initramfs.Result
}

// New returns a State ready to register steps, with a fresh run id.
func New(c capability.Capability, cfg schema.Config, artifacts schema.ArtifactSpec, output string, sizeMB int64) *State {
	if cfg.FormatTool == "" {
		cfg.FormatTool = constants.PrimaryFormatTool
	}
	if cfg.FormatFallback == "" {
		cfg.FormatFallback = constants.AlternateFormatTool
	}
	return &State{
		Cap:       c,
		Fs:        vfs.OSFS,
		Config:    cfg,
		Artifacts: artifacts,
		Output:    output,
		SizeMB:    sizeMB,
		Grub:      grub.DefaultConfig(),
		Report:    &schema.Report{RunID: uuid.Must(uuid.NewV4()).String()},
	}
}

// WriteDAG writes the dag.
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Error.Error(), op.Background, op.WeakDeps, op.Executed)
			} else {
				out += fmt.Sprintf(" <%s> (background: %t) (weak: %t) (run: %t)\n", op.Name, op.Background, op.WeakDeps, op.Executed)
			}
		}
	}
	return
}

// LogIfError will log if there is an error with the given context as message
// Context can be empty.
func (s *State) LogIfError(e error, msgContext string) {
	if e != nil {
		internalUtils.Log.Err(e).Msg(msgContext)
	}
}

// LogIfErrorAndReturn will log if there is an error with the given context as message
// Context can be empty
// Will also return the error.
func (s *State) LogIfErrorAndReturn(e error, msgContext string) error {
	if e != nil {
		internalUtils.Log.Err(e).Msg(msgContext)
	}
	return e
}

// warn logs and records a degraded, non fatal condition.
func (s *State) warn(msg string, args ...interface{}) {
	s.Report.Warn(msg, args...)
	internalUtils.Log.Warn().Str("run", s.Report.RunID).Msg(fmt.Sprintf(msg, args...))
}

// fail logs and records an error that makes the run fail, returning it for the callback.
func (s *State) fail(err error, msgContext string) error {
	s.Report.Fail(err)
	return s.LogIfErrorAndReturn(err, msgContext)
}

// Summary is printed at the end of a successful disk run.
func (s *State) Summary() string {
	var b strings.Builder
	img := s.Report.Image
	if img == nil {
		return "no image created\n"
	}
	fmt.Fprintf(&b, "Image:      %s (%d MiB, partition table: %s)\n", img.Path, img.Size/constants.MiB, img.Table)
	if s.Report.Attachment != nil {
		fmt.Fprintf(&b, "Device:     %s\n", s.Report.Attachment.Target())
	}
	if s.Report.Formatted {
		fmt.Fprintf(&b, "Filesystem: FAT32 (%s)\n", s.Report.FormatTool)
	}
	if t := s.Report.Tree; t != nil {
		if t.Mount != nil {
			fmt.Fprintf(&b, "Mounted as: %s\n", t.Mount.String())
		}
		b.WriteString("Contents:\n")
		b.WriteString(t.String())
	}
	for _, w := range s.Report.Warnings {
		fmt.Fprintf(&b, "Warning:    %s\n", w)
	}
	fmt.Fprintf(&b, "\nTest with: qemu-system-i386 -drive file=%s,format=raw -m 256M\n", img.Path)
	fmt.Fprintf(&b, "Write to a USB drive with: sudo dd if=%s of=/dev/sdX bs=4M status=progress\n", img.Path)
	return b.String()
}
