package optimizer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adaptive-search/backend/internal/storage/models"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const exportVersion = 1

// PatternFile is the on-disk envelope for exported patterns.
type PatternFile struct {
	Version    int                   `json:"version" yaml:"version"`
	ExportedAt time.Time             `json:"exported_at" yaml:"exported_at"`
	Patterns   []models.QueryPattern `json:"patterns" yaml:"patterns"`
}

// FormatForPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown pattern format %q", s)
}

func WritePatterns(w io.Writer, patterns []models.QueryPattern, format Format) error {
	if patterns == nil {
		patterns = []models.QueryPattern{}
	}
	file := PatternFile{Version: exportVersion, ExportedAt: time.Now().UTC(), Patterns: patterns}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return fmt.Errorf("failed to encode patterns: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(file); err != nil {
			return fmt.Errorf("failed to encode patterns: %w", err)
		}
		return nil
	}
}

// ReadPatterns decodes an export. Values are clamped by the importer, not here.
func ReadPatterns(r io.Reader, format Format) ([]models.QueryPattern, error) {
	var file PatternFile
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&file)
	default:
		err = json.NewDecoder(r).Decode(&file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode patterns: %w", err)
	}
	if file.Version > exportVersion {
		return nil, fmt.Errorf("unsupported pattern file version %d", file.Version)
	}
	return file.Patterns, nil
}

func ExportFile(path string, patterns []models.QueryPattern) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := WritePatterns(f, patterns, FormatForPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ImportFile(path string) ([]models.QueryPattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern file: %w", err)
	}
	defer f.Close()
	return ReadPatterns(f, FormatForPath(path))
}
