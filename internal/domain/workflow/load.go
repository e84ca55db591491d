package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Parse decodes and validates a template in the JSON API prompt format.
func Parse(data []byte) (*Template, error) {
	var nodes map[string]Node
	if err := sonic.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return New(nodes)
}

// ParseYAML decodes a template written as YAML.
func ParseYAML(data []byte) (*Template, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidTemplate, err)
	}
	return Parse(js)
}

// ParseTOML decodes a template written as TOML. Node ids must be quoted
// or bare-digit table keys, e.g. [6.inputs].
func ParseTOML(data []byte) (*Template, error) {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: toml: %v", ErrInvalidTemplate, err)
	}
	js, err := sonic.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: toml: %v", ErrInvalidTemplate, err)
	}
	return Parse(js)
}

// Load reads a template file, choosing the decoder by extension.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var t *Template
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		t, err = Parse(data)
	case ".yaml", ".yml":
		t, err = ParseYAML(data)
	case ".toml":
		t, err = ParseTOML(data)
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", path, err)
	}
	return t, nil
}

// LoadOrDefault loads path, or returns the embedded workflow when path is empty.
func LoadOrDefault(path string) (*Template, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
