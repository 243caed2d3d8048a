package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts either {source, target} or the short "host:target" form.
func (m *Mapping) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		src, dst, found := strings.Cut(s, ":")
		if !found || dst == "" {
			dst = filepath.Base(src)
		}
		m.Source, m.Target = src, dst
		return nil
	}
	type plain Mapping
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.Source == "" {
		return fmt.Errorf("line %d: mapping without source", value.Line)
	}
	if p.Target == "" {
		p.Target = filepath.Base(p.Source)
	}
	*m = Mapping(p)
	return nil
}

// LoadArtifactSpec reads a YAML manifest describing kernel, init and extra files.
func LoadArtifactSpec(path string) (*ArtifactSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	spec := &ArtifactSpec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return spec, nil
}
