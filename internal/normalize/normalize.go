// Package normalize converts provider-specific payloads into the canonical
// item record. Normalization is pure: no I/O, no clock reads beyond parsing
// timestamps carried by the payload itself.
package normalize

import (
	"errors"
	"fmt"

	"techradar/engine/internal/models"
)

// ErrInvalidPayload is wrapped by every normalization failure. Callers skip
// the offending payload and continue the run; a partial item is never
// produced.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is one provider event awaiting normalization.
type Payload struct {
	Kind models.SourceKind
	Data []byte
}

// Normalize converts a raw payload of the given kind into an Item. The same
// logical event always yields the same origin ID, which is what makes
// re-ingestion idempotent downstream.
func Normalize(kind models.SourceKind, data []byte) (*models.Item, error) {
	switch kind {
	case models.KindGitHub:
		return normalizeGitHub(data)
	case models.KindHuggingFace:
		return normalizeHuggingFace(data)
	case models.KindRSS:
		return normalizeRSS(data)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidPayload, kind)
	}
}
