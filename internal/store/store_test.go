package store

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
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func testItem(originID string) *models.Item {
	item := models.NewItem(models.KindGitHub, originID)
	item.Title = "example/repo v1.2.0"
	item.URL = "https://github.com/example/repo/releases/tag/v1.2.0"
	item.RawFeatures = models.Features{
		{Name: "event", Value: "release"},
		{Name: "version", Value: "v1.2.0"},
	}
	return item
}

func TestUpsertInsertsNewItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, testItem("example/repo@v1.2.0"))
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.True(t, res.Changed)

	got, err := s.Get(ctx, models.ItemKey{Kind: models.KindGitHub, OriginID: "example/repo@v1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Equal(t, 0.0, got.Score)
	assert.False(t, got.DiscoveredAt.IsZero())
}

func TestUpsertDuplicateKeyIsUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testItem("example/repo@v1.2.0")
	_, err := s.Upsert(ctx, first)
	require.NoError(t, err)

	res, err := s.Upsert(ctx, testItem("example/repo@v1.2.0"))
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.False(t, res.Changed, "identical features and event time must not report a change")
}

func TestUpsertDetectsFeatureChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, testItem("example/repo@v1.2.0"))
	require.NoError(t, err)

	updated := testItem("example/repo@v1.2.0")
	updated.RawFeatures = append(updated.RawFeatures,
		models.Feature{Name: "stars_delta", Value: "500"})

	res, err := s.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.True(t, res.Changed)

	got, err := s.Get(ctx, updated.Key())
	require.NoError(t, err)
	v, ok := got.RawFeatures.Get("stars_delta")
	require.True(t, ok)
	assert.Equal(t, "500", v)
}

func TestUpsertPreservesDiscoveredAtAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("example/repo@v1.2.0")
	item.DiscoveredAt = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	_, err := s.Upsert(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, item.Key(), models.StatusEnriched, ""))

	updated := testItem("example/repo@v1.2.0")
	updated.Title = "a newer title"
	updated.RawFeatures = append(updated.RawFeatures,
		models.Feature{Name: "stars_delta", Value: "10"})
	_, err = s.Upsert(ctx, updated)
	require.NoError(t, err)

	got, err := s.Get(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, "a newer title", got.Title)
	assert.True(t, item.DiscoveredAt.Equal(got.DiscoveredAt.UTC()),
		"discovered_at must survive updates")
	assert.Equal(t, models.StatusEnriched, got.Status,
		"status must never change through upsert")
}

func TestUpsertDetectsEventTimeChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("example/repo@v1.2.0")
	item.EventTime = sql.NullTime{Time: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), Valid: true}
	_, err := s.Upsert(ctx, item)
	require.NoError(t, err)

	same := testItem("example/repo@v1.2.0")
	same.EventTime = item.EventTime
	res, err := s.Upsert(ctx, same)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	moved := testItem("example/repo@v1.2.0")
	moved.EventTime = sql.NullTime{Time: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC), Valid: true}
	res, err = s.Upsert(ctx, moved)
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestUpsertScoredWritesScoreOnChangeOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertScored(ctx, testItem("example/repo@v1.2.0"),
		func(stored *models.Item) float64 { return 0.5 })
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 0.5, res.Score)

	got, err := s.Get(ctx, models.ItemKey{Kind: models.KindGitHub, OriginID: "example/repo@v1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Score)

	// An unchanged upsert must not invoke the callback or touch the score.
	res, err = s.UpsertScored(ctx, testItem("example/repo@v1.2.0"),
		func(stored *models.Item) float64 {
			t.Error("score callback ran for an unchanged row")
			return 0.9
		})
	require.NoError(t, err)
	assert.False(t, res.Changed)

	got, err = s.Get(ctx, got.Key())
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Score)
}

func TestUpsertConcurrentSameKeySerializes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const goroutines = 8
	const rounds = 25

	errCh := make(chan error, goroutines*rounds)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				item := testItem("example/repo@v2.0.0")
				item.RawFeatures = append(item.RawFeatures,
					models.Feature{Name: "stars_delta", Value: strconv.Itoa(g*rounds + i)})
				if _, err := s.Upsert(ctx, item); err != nil {
					errCh <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)

	// Concurrent writers must queue on the write lock, never fail with a
	// busy error.
	for err := range errCh {
		t.Errorf("concurrent upsert failed: %v", err)
	}

	items, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 1, "one key must yield one row regardless of writer count")
}

func TestGetUnknownKeyReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), models.ItemKey{Kind: models.KindRSS, OriginID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatusLegalPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("example/repo@v1.2.0")
	_, err := s.Upsert(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, item.Key(), models.StatusEnriched, ""))
	require.NoError(t, s.SetStatus(ctx, item.Key(), models.StatusPublished, ""))

	got, err := s.Get(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
}

func TestSetStatusRejectsIllegalTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("example/repo@v1.2.0")
	_, err := s.Upsert(ctx, item)
	require.NoError(t, err)

	// new may only move to enriched.
	err = s.SetStatus(ctx, item.Key(), models.StatusPublished, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.SetStatus(ctx, item.Key(), models.StatusEnriched, ""))

	// enriched may not go back.
	err = s.SetStatus(ctx, item.Key(), models.StatusNew, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.SetStatus(ctx, item.Key(), models.StatusDiscarded, "off-topic"))

	// discarded is terminal.
	err = s.SetStatus(ctx, item.Key(), models.StatusPublished, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.Get(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiscarded, got.Status)
	require.True(t, got.DiscardedFor.Valid)
	assert.Equal(t, "off-topic", got.DiscardedFor.String)
}

func TestSetStatusUnknownKey(t *testing.T) {
	s := newTestStore(t)

	err := s.SetStatus(context.Background(),
		models.ItemKey{Kind: models.KindGitHub, OriginID: "missing"},
		models.StatusEnriched, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("example/repo@v1.2.0")
	_, err := s.Upsert(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.SetScore(ctx, item.Key(), 0.73))

	got, err := s.Get(ctx, item.Key())
	require.NoError(t, err)
	assert.InDelta(t, 0.73, got.Score, 1e-9)

	err = s.SetScore(ctx, models.ItemKey{Kind: models.KindRSS, OriginID: "missing"}, 0.5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRankedOrderingAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scores := map[string]float64{"a": 0.95, "b": 0.92, "c": 0.10}
	for origin, score := range scores {
		item := testItem(origin)
		_, err := s.Upsert(ctx, item)
		require.NoError(t, err)
		require.NoError(t, s.SetScore(ctx, item.Key(), score))
		require.NoError(t, s.SetStatus(ctx, item.Key(), models.StatusEnriched, ""))
	}

	// A discarded item must not appear in a status-filtered list.
	dropped := testItem("d")
	_, err := s.Upsert(ctx, dropped)
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, dropped.Key(), models.StatusEnriched, ""))
	require.NoError(t, s.SetStatus(ctx, dropped.Key(), models.StatusDiscarded, "noise"))

	items, err := s.List(ctx, Filter{
		Statuses: []models.Status{models.StatusEnriched, models.StatusPublished},
		Ranked:   true,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].OriginID)
	assert.Equal(t, "b", items[1].OriginID)
	assert.Equal(t, "c", items[2].OriginID)

	items, err = s.List(ctx, Filter{
		Statuses: []models.Status{models.StatusEnriched},
		MinScore: 0.9,
		Limit:    1,
		Ranked:   true,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].OriginID)
}

func TestPurgeDiscardedLeavesOtherStatusesAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := testItem("old-discard")
	_, err := s.Upsert(ctx, old)
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, old.Key(), models.StatusEnriched, ""))
	require.NoError(t, s.SetStatus(ctx, old.Key(), models.StatusDiscarded, "stale"))

	kept := testItem("published")
	_, err = s.Upsert(ctx, kept)
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, kept.Key(), models.StatusEnriched, ""))
	require.NoError(t, s.SetStatus(ctx, kept.Key(), models.StatusPublished, ""))

	// Age the discarded row past the retention window.
	_, err = s.db.ExecContext(ctx,
		"UPDATE items SET updated_at = ? WHERE origin_id = ?",
		time.Now().UTC().AddDate(0, 0, -30), "old-discard")
	require.NoError(t, err)

	purged, err := s.PurgeDiscarded(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = s.Get(ctx, old.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, kept.Key())
	assert.NoError(t, err, "published items are never purged")

	_, err = s.PurgeDiscarded(ctx, 0)
	assert.Error(t, err)
}

func TestUpsertSourceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := models.NewSource(models.KindRSS, "Go Blog", "https://go.dev/blog/feed.atom")
	id1, err := s.UpsertSource(ctx, src)
	require.NoError(t, err)
	require.Greater(t, id1, int64(0))

	src.Weight = 1.5
	id2, err := s.UpsertSource(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "re-registering the same (kind, url) must keep the id")

	got, err := s.GetSource(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Weight)
}

func TestRecordRunFailureDisablesSourceAtCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := models.NewSource(models.KindRSS, "Flaky Feed", "https://example.com/feed.xml")
	id, err := s.UpsertSource(ctx, src)
	require.NoError(t, err)

	for i := 0; i <= maxSourceFailures; i++ {
		require.NoError(t, s.RecordRunFailure(ctx, id, context.DeadlineExceeded))
	}

	got, err := s.GetSource(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Enabled, "source must be disabled after exceeding the failure cap")
	assert.Equal(t, maxSourceFailures+1, got.FailuresCount)

	// A success resets the counter but does not re-enable.
	require.NoError(t, s.RecordRunSuccess(ctx, id))
	got, err = s.GetSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailuresCount)
	assert.False(t, got.Enabled)
}
