package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Engine file loading errors.
var (
	ErrFileNotFound     = errors.New("engine file not found")
	ErrPermissionDenied = errors.New("engine file not readable")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("engine file is empty")
)

// Format is the encoding of an engine file.
type Format string

// Engine file formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from the file extension. Only .yaml and .yml
// are YAML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFromFile reads, decodes and validates the engine file at path.
func LoadFromFile(path string) (*EngineFile, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case err != nil:
		// Directories fail here too.
		return nil, fmt.Errorf("read engine file %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	file, err := Decode(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// ParseJSON decodes and validates a JSON engine file.
func ParseJSON(data []byte) (*EngineFile, error) {
	return Decode(data, FormatJSON)
}

// ParseYAML decodes and validates a YAML engine file.
func ParseYAML(data []byte) (*EngineFile, error) {
	return Decode(data, FormatYAML)
}

// Decode parses an engine file in the given format, fills in defaults and
// validates the result.
func Decode(data []byte, format Format) (*EngineFile, error) {
	file := new(EngineFile)
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, file); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, fmt.Errorf("%w at offset %d: %v", ErrInvalidJSON, syntaxErr.Offset, err)
			}
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown engine file format %q", format)
	}

	if err := file.normalize(time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return file, nil
}

// normalize fills in what a hand-written engine file may leave out. The
// certificate section defaults to DefaultCertDir and DefaultCertName, servers
// get their protocol defaults, and definitions get an id. Definitions with no
// creation time are stamped from now in file order, one millisecond apart,
// so the last one listed counts as the newest.
func (f *EngineFile) normalize(now time.Time) error {
	if f.Certificates.Dir == "" {
		f.Certificates.Dir = DefaultCertDir
	}
	if f.Certificates.Name == "" {
		f.Certificates.Name = DefaultCertName
	}

	for i := range f.Servers {
		f.Servers[i].ApplyDefaults()
	}

	for i, d := range f.Definitions {
		if d == nil {
			return &ConfigError{Field: fmt.Sprintf("definitions[%d]", i), Message: "is empty"}
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
	}
	return nil
}
