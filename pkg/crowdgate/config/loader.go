package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
)

// Format is the encoding of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// topLevel lists the sections a config file may contain. Anything else is
// almost always a typo that would otherwise be silently ignored.
var topLevel = map[string]bool{
	"ingest":   true,
	"density":  true,
	"decision": true,
	"store":    true,
	"http":     true,
	"kafka":    true,
	"nats":     true,
	"mqtt":     true,
	"log":      true,
	"zones":    true,
}

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
}

// Load reads and parses a config file.
func Load(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data and rejects unknown top-level sections.
func Parse(data []byte, format Format) (Config, error) {
	var m map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown config format %q", format)
	}

	var unknown []string
	for key := range m {
		if !topLevel[strings.ToLower(key)] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		errs := make([]error, 0, len(unknown))
		for _, key := range unknown {
			errs = append(errs, cgerrors.Invalid(key, "unknown config section"))
		}
		return Config{}, errors.Join(errs...)
	}
	return New(m), nil
}
