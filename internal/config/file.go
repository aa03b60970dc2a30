package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"techradar/engine/internal/models"
	"techradar/engine/internal/scoring"
)

// File is the on-disk YAML configuration: the source registry plus the
// scoring knobs. The import subcommand loads it into the database; the run
// and server subcommands read only the scoring section.
type File struct {
	Scoring ScoringSection `yaml:"scoring"`
	Sources []SourceSpec   `yaml:"sources"`
}

// ScoringSection configures the scoring engine.
type ScoringSection struct {
	HalfLifeHours float64  `yaml:"half_life_hours"`
	Keywords      []string `yaml:"keywords"`
}

// SourceSpec is one registered provider in the config file.
type SourceSpec struct {
	Kind    models.SourceKind `yaml:"kind"`
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Weight  float64           `yaml:"weight"`
	Enabled *bool             `yaml:"enabled"` // nil means enabled
}

// LoadFile reads and validates the YAML configuration at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	known := make(map[models.SourceKind]bool)
	for _, kind := range models.KnownKinds() {
		known[kind] = true
	}
	for i, src := range f.Sources {
		if !known[src.Kind] {
			return nil, fmt.Errorf("source %d: unknown kind %q", i, src.Kind)
		}
		if src.Name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if src.URL == "" {
			return nil, fmt.Errorf("source %d (%s): url is required", i, src.Name)
		}
	}

	return &f, nil
}

// ScoringConfig merges the file's scoring section over the defaults.
func (f *File) ScoringConfig() scoring.Config {
	cfg := scoring.Default()
	if f.Scoring.HalfLifeHours > 0 {
		cfg.HalfLife = time.Duration(f.Scoring.HalfLifeHours * float64(time.Hour))
	}
	cfg.Keywords = f.Scoring.Keywords
	return cfg
}

// Model converts a spec into a Source row.
func (s SourceSpec) Model() *models.Source {
	src := models.NewSource(s.Kind, s.Name, s.URL)
	if s.Weight > 0 {
		src.Weight = s.Weight
	}
	if s.Enabled != nil {
		src.Enabled = *s.Enabled
	}
	return src
}
