package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the processing state of an item. Transitions are forward-only:
// new -> enriched -> published or discarded. Published and discarded are
// terminal.
type Status string

const (
	StatusNew       Status = "new"
	StatusEnriched  Status = "enriched"
	StatusPublished Status = "published"
	StatusDiscarded Status = "discarded"
)

// nextStatuses maps each status to the set of statuses it may move to.
var nextStatuses = map[Status][]Status{
	StatusNew:       {StatusEnriched},
	StatusEnriched:  {StatusPublished, StatusDiscarded},
	StatusPublished: nil,
	StatusDiscarded: nil,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := nextStatuses[s]
	return ok
}

// CanTransition reports whether an item may move from s to target.
func (s Status) CanTransition(target Status) bool {
	for _, allowed := range nextStatuses[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ItemKey uniquely identifies an item across all sources.
type ItemKey struct {
	Kind     SourceKind
	OriginID string
}

func (k ItemKey) String() string {
	return string(k.Kind) + ":" + k.OriginID
}

// Feature is a single named signal extracted at normalization time.
type Feature struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Features is an ordered list of features. It is replaced wholesale on every
// update, never merged. Stored as a JSON array so the extraction order
// survives the round trip.
type Features []Feature

// Get returns the value of the named feature and whether it is present.
func (f Features) Get(name string) (string, bool) {
	for _, feat := range f {
		if feat.Name == name {
			return feat.Value, true
		}
	}
	return "", false
}

// Float returns the named feature parsed as a float64, or 0 when absent or
// unparseable.
func (f Features) Float(name string) float64 {
	raw, ok := f.Get(name)
	if !ok {
		return 0
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
		return 0
	}
	return v
}

// Equal reports whether two feature lists carry the same features in the
// same order.
func (f Features) Equal(other Features) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// Value implements driver.Valuer for storing features as a JSON column.
func (f Features) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading features back from the database.
func (f *Features) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("unsupported features column type %T", src)
	}
}

// Item represents a row in the 'items' table: one deduplicated unit of
// tracked intelligence (a repo event, model release, or feed entry).
type Item struct {
	ID           int64          `db:"id" json:"-"`
	Kind         SourceKind     `db:"kind" json:"kind"`
	OriginID     string         `db:"origin_id" json:"origin_id"`
	SourceID     sql.NullInt64  `db:"source_id" json:"-"`
	Title        string         `db:"title" json:"title"`
	URL          string         `db:"url" json:"url"`
	SecondaryURL sql.NullString `db:"secondary_url" json:"secondary_url,omitempty"`
	Author       sql.NullString `db:"author" json:"author,omitempty"`
	EventTime    sql.NullTime   `db:"event_time" json:"event_time,omitempty"`
	DiscoveredAt time.Time      `db:"discovered_at" json:"discovered_at"`
	RawFeatures  Features       `db:"raw_features" json:"raw_features,omitempty"`
	Status       Status         `db:"status" json:"status"`
	Score        float64        `db:"score" json:"score"`
	DiscardedFor sql.NullString `db:"discard_reason" json:"discard_reason,omitempty"`
	UpdatedAt    time.Time      `db:"updated_at" json:"-"`
}

// Key returns the dedup key of the item.
func (it *Item) Key() ItemKey {
	return ItemKey{Kind: it.Kind, OriginID: it.OriginID}
}

// NewItem creates an Item keyed by kind and origin id. Timestamps are
// assigned by the store on first write, which keeps construction (and so
// normalization) free of clock reads.
func NewItem(kind SourceKind, originID string) *Item {
	return &Item{
		Kind:     kind,
		OriginID: originID,
		Status:   StatusNew,
	}
}
