package external

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLAliasLoader implements ConfigAliasLoader over a small YAML document
// mapping short labels to (set, version, path) tuples:
//
//	m1m3-fa-101:
//	  set: fa-rev-g
//	  version: "3.2.1"
//	  path: /opt/ts/firmware/fa-rev-g-3.2.1.hex
type YAMLAliasLoader struct {
	aliases map[string]aliasEntry
}

type aliasEntry struct {
	Set     string `yaml:"set"`
	Version string `yaml:"version"`
	Path    string `yaml:"path"`
}

// LoadYAMLAliasFile reads and parses path as a YAML alias document.
func LoadYAMLAliasFile(path string) (*YAMLAliasLoader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var aliases map[string]aliasEntry
	if err := yaml.Unmarshal(raw, &aliases); err != nil {
		return nil, fmt.Errorf("external: parsing alias file %s: %w", path, err)
	}
	return &YAMLAliasLoader{aliases: aliases}, nil
}

// UnknownAlias is raised when label has no entry in the alias file.
type UnknownAlias struct{ Label string }

func (e *UnknownAlias) Error() string { return fmt.Sprintf("external: unknown alias %q", e.Label) }

func (l *YAMLAliasLoader) GetAlias(label string) (setName, version string, err error) {
	e, ok := l.aliases[label]
	if !ok {
		return "", "", &UnknownAlias{Label: label}
	}
	return e.Set, e.Version, nil
}

func (l *YAMLAliasLoader) GetPath(label string) (string, error) {
	e, ok := l.aliases[label]
	if !ok {
		return "", &UnknownAlias{Label: label}
	}
	return e.Path, nil
}
