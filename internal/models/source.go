package models

import (
	"database/sql"
	"time"
)

// SourceKind identifies which provider an item came from.
type SourceKind string

const (
	KindGitHub      SourceKind = "github"
	KindHuggingFace SourceKind = "huggingface"
	KindRSS         SourceKind = "rss"
)

// KnownKinds returns all supported source kinds.
func KnownKinds() []SourceKind {
	return []SourceKind{KindGitHub, KindHuggingFace, KindRSS}
}

// Source represents a row in the 'sources' table: a registered provider with
// its own scoring weight and enable flag. Sources are created and edited by
// configuration; the engine only reads them at the start of a run.
type Source struct {
	ID            int64          `db:"id" json:"id"`
	Kind          SourceKind     `db:"kind" json:"kind"`
	Name          string         `db:"name" json:"name"`
	URL           string         `db:"url" json:"url"`
	Weight        float64        `db:"weight" json:"weight"`
	Enabled       bool           `db:"enabled" json:"enabled"`
	FailuresCount int            `db:"failures_count" json:"failures_count"`
	LastError     sql.NullString `db:"last_error" json:"last_error,omitempty"`
	LastRunAt     sql.NullTime   `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"-"`
	UpdatedAt     time.Time      `db:"updated_at" json:"-"`
}

// NewSource creates a Source with default values.
func NewSource(kind SourceKind, name, url string) *Source {
	now := time.Now().UTC()
	return &Source{
		Kind:      kind,
		Name:      name,
		URL:       url,
		Weight:    1.0,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
