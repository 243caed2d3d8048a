package grub

import (
	"bytes"
	"os"
	"path/filepath"
	"text/template"

	"github.com/arkos-project/arkimage/internal/constants"
)

const configTemplate = `# GRUB2 boot configuration for {{ .Title }}

menuentry '{{ .Title }}' {
    multiboot /{{ .Kernel }}
    echo "Booting {{ .Title }} kernel..."
}

set timeout={{ .Timeout }}
set default={{ .Default }}
`

var tmpl = template.Must(template.New("grub.cfg").Parse(configTemplate))

// Config describes the single boot entry.
type Config struct {
	Title   string
	Kernel  string
	Timeout int
	Default int
}

func DefaultConfig() Config {
	return Config{
		Title:   constants.MenuTitle,
		Kernel:  constants.KernelName,
		Timeout: 5,
		Default: 0,
	}
}

// Render returns the grub.cfg text for c.
func (c Config) Render() (string, error) {
	var b bytes.Buffer
	if err := tmpl.Execute(&b, c); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Emit returns the default grub.cfg.
func Emit() string {
	out, _ := DefaultConfig().Render()
	return out
}

// WriteTo writes grub.cfg into dir, creating it if needed. Returns the written path.
func WriteTo(dir string, c Config) (string, error) {
	out, err := c.Render()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, filepath.Base(constants.GrubConfig))
	return p, os.WriteFile(p, []byte(out), 0o644)
}
