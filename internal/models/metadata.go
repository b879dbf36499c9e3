package models

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PackageMetadata is the finished metadata mapping of one package, as handed
// over by the template layer. Optional fields left at their zero value are
// omitted from .PKGINFO.
type PackageMetadata struct {
	Name        string `yaml:"pkgname"`
	Version     string `yaml:"pkgver"`
	Description string `yaml:"pkgdesc"`
	URL         string `yaml:"url"`
	Arch        string `yaml:"arch"`
	Packager    string `yaml:"packager"`
	Maintainer  string `yaml:"maintainer"`
	Origin      string `yaml:"origin"`
	Commit      string `yaml:"commit"`
	License     string `yaml:"license"`

	Replaces      []string `yaml:"replaces"`
	Depends       []string `yaml:"depends"`
	ShlibRequires []string `yaml:"shlib_requires"`
	PCRequires    []string `yaml:"pc_requires"`

	Provides []string `yaml:"provides"`
	// ProviderPriority is a pointer because an explicit 0 is still emitted.
	ProviderPriority *int            `yaml:"provider_priority"`
	ShlibProvides    []SharedLibrary `yaml:"shlib_provides"`
	CmdProvides      []string        `yaml:"cmd_provides"`
	PCProvides       []string        `yaml:"pc_provides"`

	InstallIf []string `yaml:"install_if"`
	Triggers  []string `yaml:"triggers"`

	// FileModes overrides ownership (and optionally mode) of archive entries,
	// keyed by the entry name relative to the installation root.
	FileModes map[string]FileMode `yaml:"file_modes"`
}

// SharedLibrary is one provided shared library: soname plus version.
type SharedLibrary struct {
	Soname  string `yaml:"soname"`
	Version string `yaml:"version"`
}

// UnmarshalYAML accepts either a [soname, version] pair or a mapping.
func (s *SharedLibrary) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: shlib_provides entry needs [soname, version], got %d items", node.Line, len(pair))
		}
		s.Soname, s.Version = pair[0], pair[1]
		return nil
	}
	type plain SharedLibrary
	return node.Decode((*plain)(s))
}

// FileMode is an ownership/mode override. Owner and Group use the
// "name:numeric-id" form; empty means root.
type FileMode struct {
	Owner string
	Group string
	Mode  int64
}

// UnmarshalYAML decodes the [owner_spec, group_spec, mode] triple. The mode
// may be an integer (0755 or 0o755) or a string holding an octal number.
func (f *FileMode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 3 {
		return fmt.Errorf("line %d: file_modes entry needs [owner, group, mode]", node.Line)
	}
	if err := node.Content[0].Decode(&f.Owner); err != nil {
		return err
	}
	if err := node.Content[1].Decode(&f.Group); err != nil {
		return err
	}

	var mode int64
	if err := node.Content[2].Decode(&mode); err != nil {
		var s string
		if serr := node.Content[2].Decode(&s); serr != nil {
			return err
		}
		mode, err = strconv.ParseInt(s, 8, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid mode %q: %w", node.Line, s, err)
		}
	}
	if mode < 0 || mode > 07777 {
		return fmt.Errorf("line %d: mode %o out of range", node.Line, mode)
	}
	f.Mode = mode
	return nil
}

// Validate checks the fields every package must carry.
func (m *PackageMetadata) Validate() error {
	if m.Name == "" {
		return errors.New("pkgname is required")
	}
	if m.Version == "" {
		return errors.New("pkgver is required")
	}
	return nil
}

// ParseMetadata decodes a YAML (or JSON) metadata document. Unknown keys are
// rejected so that typos do not silently drop fields.
func ParseMetadata(data []byte) (*PackageMetadata, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m PackageMetadata
	if err := dec.Decode(&m); err != nil {
		return nil, &BuildError{Type: ErrMetadata, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &BuildError{Type: ErrMetadata, Err: err}
	}
	return &m, nil
}

// LoadMetadata reads and decodes a metadata file.
func LoadMetadata(path string) (*PackageMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &BuildError{Type: ErrFileSystem, Path: path, Err: err}
	}
	m, err := ParseMetadata(data)
	if err != nil {
		var be *BuildError
		if errors.As(err, &be) {
			be.Path = path
		}
		return nil, err
	}
	return m, nil
}
