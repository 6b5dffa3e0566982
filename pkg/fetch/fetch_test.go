package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

func TestParseSince(t *testing.T) {
	cases := []struct {
		in    string
		hours int
		ok    bool
	}{
		{"", 0, true},
		{"24h", 24, true},
		{"72h", 72, true},
		{"7d", 168, true},
		{" 24H ", 24, true},
		{"yesterday", 0, false},
		{"24", 0, false},
		{"-3h", 0, false},
	}
	for _, c := range cases {
		got, err := ParseSince(c.in)
		if c.ok {
			require.NoError(t, err, c.in)
			assert.Equal(t, c.hours, got, c.in)
		} else {
			require.ErrorIs(t, err, ErrBadSince, c.in)
		}
	}
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sourcesFor(url string) *config.SourcesConfig {
	return &config.SourcesConfig{
		Version: "1.0.0",
		Defaults: config.Defaults{
			MaxItemsPerFetch: 100,
			TimeoutSeconds:   5,
			UserAgent:        "sentinel-test/1.0",
		},
		Tiers: map[contracts.Tier][]config.Source{
			contracts.TierGlobal: {{ID: "feed-a", Type: "json", URL: url, Tier: contracts.TierGlobal}},
		},
	}
}

func TestJSONFeed_FetchAndSinceFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sentinel-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"items": [
			{"canonical_id": "A", "title": "old", "published_at_utc": "2025-12-01T00:00:00Z", "payload": {}},
			{"canonical_id": "B", "title": "new", "published_at_utc": "2025-12-28T00:00:00Z", "payload": {}},
			{"canonical_id": "C", "title": "undated", "payload": {}}
		]}`))
	}))
	defer srv.Close()

	cfg := sourcesFor(srv.URL)
	src, _ := cfg.SourceByID("feed-a")
	adapter := NewJSONFeed(src, cfg.Defaults)

	all, err := adapter.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	since := time.Date(2025, 12, 27, 0, 0, 0, 0, time.UTC)
	recent, err := adapter.Fetch(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "B", recent[0].CanonicalID)
	assert.Equal(t, "C", recent[1].CanonicalID)
}

func TestJSONFeed_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"canonical_id": "X", "title": "t", "payload": {}}]`))
	}))
	defer srv.Close()

	cfg := sourcesFor(srv.URL)
	src, _ := cfg.SourceByID("feed-a")
	got, err := NewJSONFeed(src, cfg.Defaults).Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "X", got[0].CanonicalID)
}

func TestJSONFeed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := sourcesFor(srv.URL)
	src, _ := cfg.SourceByID("feed-a")
	_, err := NewJSONFeed(src, cfg.Defaults).Fetch(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRun_PersistsAndDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"canonical_id": "A", "title": "a", "payload": {"k": "v"}},
			{"canonical_id": "B", "title": "b", "payload": {"k": "v"}}
		]`))
	}))
	defer srv.Close()

	db := newTestDB(t)
	f := &Fetcher{Sources: sourcesFor(srv.URL), DB: db}
	scope := determinism.Live()

	sum, err := f.Run(context.Background(), Options{}, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sources)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 2, sum.Inserted)
	assert.Empty(t, sum.Errors)

	// A second run over the same feed only touches fetch timestamps.
	sum, err = f.Run(context.Background(), Options{}, scope)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Inserted)
	assert.Equal(t, 2, sum.Deduped)

	items, err := db.ItemsForIngest(context.Background(), store.IngestFilter{Now: time.Now().UTC()})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRun_CollectsPerSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"canonical_id": "A", "title": "a", "payload": {}}]`))
	}))
	defer srv.Close()

	cfg := sourcesFor(srv.URL)
	cfg.Tiers[contracts.TierRegional] = []config.Source{
		{ID: "broken", Type: "carrier_pigeon", URL: "https://example.invalid/feed", Tier: contracts.TierRegional},
	}
	db := newTestDB(t)
	f := &Fetcher{Sources: cfg, DB: db}

	sum, err := f.Run(context.Background(), Options{}, determinism.Live())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sources)
	assert.Equal(t, 1, sum.Inserted)
	require.Contains(t, sum.Errors, "broken")
	assert.Contains(t, sum.Errors["broken"], "no adapter")

	// Fail-fast surfaces the error instead.
	f2 := &Fetcher{Sources: cfg, DB: newTestDB(t)}
	_, err = f2.Run(context.Background(), Options{SourceID: "broken", FailFast: true}, determinism.Live())
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "broken", srcErr.SourceID)
}

func TestRun_FiltersAndLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"canonical_id": "A", "title": "a", "payload": {}},
			{"canonical_id": "B", "title": "b", "payload": {}},
			{"canonical_id": "C", "title": "c", "payload": {}}
		]`))
	}))
	defer srv.Close()

	cfg := sourcesFor(srv.URL)
	disabled := false
	cfg.Tiers[contracts.TierLocal] = []config.Source{
		{ID: "off", Type: "json", URL: srv.URL, Tier: contracts.TierLocal, Enabled: &disabled},
	}
	db := newTestDB(t)
	f := &Fetcher{Sources: cfg, DB: db}

	sum, err := f.Run(context.Background(), Options{Tier: contracts.TierGlobal, MaxItems: 2}, determinism.Live())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sources)
	assert.Equal(t, 2, sum.Fetched)
}

func TestRun_RefusesPinnedScope(t *testing.T) {
	f := &Fetcher{Sources: sourcesFor("https://example.com/feed"), DB: newTestDB(t)}
	scope := determinism.Pinned(determinism.Context{Seed: 1, Timestamp: time.Now(), RunID: "R"})
	_, err := f.Run(context.Background(), Options{}, scope)
	require.ErrorIs(t, err, determinism.ErrViolation)
}
