package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 10, 9, 30, 15, 123456789, time.UTC)

	encoded := EncodeCursor(ts, 42)
	gotTS, gotID, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTS), "nanosecond precision must survive the round trip")
	assert.Equal(t, int64(42), gotID)
}

func TestDecodeCursorNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 2, 10, 10, 0, 0, 0, loc)

	gotTS, _, err := DecodeCursor(EncodeCursor(ts, 1))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, gotTS.Location())
	assert.True(t, ts.Equal(gotTS))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := []struct {
		name   string
		cursor string
	}{
		{"not base64", "%%%"},
		{"missing separator", base64.URLEncoding.EncodeToString([]byte("justonefield"))},
		{"bad timestamp", base64.URLEncoding.EncodeToString([]byte("yesterday,42"))},
		{"bad id", base64.URLEncoding.EncodeToString([]byte("2026-02-10T09:30:15Z,forty-two"))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeCursor(tc.cursor)
			assert.Error(t, err)
		})
	}
}
