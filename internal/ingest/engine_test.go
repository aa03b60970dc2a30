package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techradar/engine/internal/database"
	"techradar/engine/internal/models"
	"techradar/engine/internal/scoring"
	"techradar/engine/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	engine := New(st, scoring.Default()).WithNow(func() time.Time { return testNow })
	return engine, st
}

func releaseItem(starsDelta string) *models.Item {
	item := models.NewItem(models.KindGitHub, "example/repo@v2.0.0")
	item.Title = "example/repo v2.0.0"
	item.URL = "https://github.com/example/repo/releases/tag/v2.0.0"
	item.EventTime = sql.NullTime{Time: testNow.Add(-3 * time.Hour), Valid: true}
	item.RawFeatures = models.Features{
		{Name: "event", Value: "release"},
		{Name: "version", Value: "v2.0.0"},
		{Name: "stars_delta", Value: starsDelta},
	}
	return item
}

func TestIngestLifecycleRoundTrip(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	src := models.NewSource(models.KindGitHub, "GitHub Releases", "https://api.example.com/gh")
	_, err := st.UpsertSource(ctx, src)
	require.NoError(t, err)

	// First sighting: inserted with a positive score.
	outcome, err := engine.Ingest(ctx, src, releaseItem("50"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)

	key := models.ItemKey{Kind: models.KindGitHub, OriginID: "example/repo@v2.0.0"}
	stored, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, stored.Status)
	assert.Greater(t, stored.Score, 0.0)
	firstScore := stored.Score

	// Identical payload: no-op, score untouched.
	outcome, err = engine.Ingest(ctx, src, releaseItem("50"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	stored, err = st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, firstScore, stored.Score)

	// Bigger star delta: update with a higher score.
	outcome, err = engine.Ingest(ctx, src, releaseItem("500"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	stored, err = st.Get(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, stored.Score, firstScore)
	assert.Equal(t, models.StatusNew, stored.Status)
}

func TestIngestNeverTouchesStatus(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, nil, releaseItem("50"))
	require.NoError(t, err)

	key := models.ItemKey{Kind: models.KindGitHub, OriginID: "example/repo@v2.0.0"}
	require.NoError(t, st.SetStatus(ctx, key, models.StatusEnriched, ""))
	require.NoError(t, st.SetStatus(ctx, key, models.StatusPublished, ""))

	outcome, err := engine.Ingest(ctx, nil, releaseItem("900"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	stored, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, stored.Status,
		"published items stay published across upstream updates")
}

func TestIngestSourceWeightRaisesScore(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	light := models.NewSource(models.KindGitHub, "light", "https://api.example.com/light")
	_, err := st.UpsertSource(ctx, light)
	require.NoError(t, err)

	heavy := models.NewSource(models.KindGitHub, "heavy", "https://api.example.com/heavy")
	heavy.Weight = 2.0
	_, err = st.UpsertSource(ctx, heavy)
	require.NoError(t, err)

	itemA := releaseItem("50")
	itemA.OriginID = "example/repo@light"
	_, err = engine.Ingest(ctx, light, itemA)
	require.NoError(t, err)

	itemB := releaseItem("50")
	itemB.OriginID = "example/repo@heavy"
	_, err = engine.Ingest(ctx, heavy, itemB)
	require.NoError(t, err)

	a, err := st.Get(ctx, itemA.Key())
	require.NoError(t, err)
	b, err := st.Get(ctx, itemB.Key())
	require.NoError(t, err)
	assert.InDelta(t, 2*a.Score, b.Score, 1e-9)
}

func TestConcurrentIngestScoreMatchesStoredFeatures(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	const goroutines = 8
	const rounds = 10

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				item := releaseItem(strconv.Itoa((g + 1) * (i + 1)))
				if _, err := engine.Ingest(ctx, nil, item); err != nil {
					t.Errorf("concurrent ingest failed: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	// Whichever writer won, the stored score must be the score of the
	// stored features, not one computed from a competing call's payload.
	stored, err := st.Get(ctx, models.ItemKey{Kind: models.KindGitHub, OriginID: "example/repo@v2.0.0"})
	require.NoError(t, err)
	expected := scoring.Default().Score(stored, 1.0, testNow)
	assert.Equal(t, expected, stored.Score)
}

func TestIngestFlagsRecencyFallback(t *testing.T) {
	engine, st := newTestEngine(t)
	ctx := context.Background()

	item := releaseItem("10")
	item.EventTime = sql.NullTime{}

	_, err := engine.Ingest(ctx, nil, item)
	require.NoError(t, err)

	stored, err := st.Get(ctx, item.Key())
	require.NoError(t, err)
	_, ok := stored.RawFeatures.Get(scoring.FallbackFeature)
	assert.True(t, ok, "items without an event time carry the fallback marker")
}
