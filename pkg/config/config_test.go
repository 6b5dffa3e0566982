package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

const sampleSources = `
version: "1.2.0"
defaults:
  rate_limit:
    per_host_min_seconds: 10
    jitter_seconds: 3
  timeout_seconds: 20
  user_agent: "sentinel/1.0"
  max_items_per_fetch: 50
tiers:
  global:
    - id: noaa-alerts
      type: noaa_cap
      url: https://api.weather.gov/alerts/active
      tier: global
      trust_tier: 3
  regional:
    - id: state-feed
      type: rss
      url: https://example.com/state.rss
      tier: regional
      classification_floor: 1
      weighting_bias: -1
      geo:
        city: Indianapolis
        state: IN
  local:
    - id: local-news
      type: rss
      url: https://example.com/local.rss
      tier: local
      enabled: false
`

func TestParseSources_Valid(t *testing.T) {
	cfg, err := ParseSources([]byte(sampleSources))
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, 10, cfg.Defaults.RateLimit.PerHostMinSeconds)
	assert.Equal(t, 50, cfg.Defaults.MaxItemsPerFetch)

	all := cfg.AllSources()
	require.Len(t, all, 3)
	// Flattened in global, regional, local order.
	assert.Equal(t, "noaa-alerts", all[0].ID)
	assert.Equal(t, contracts.TierGlobal, all[0].Tier)
	assert.Equal(t, "state-feed", all[1].ID)
	assert.Equal(t, "local-news", all[2].ID)

	src, ok := cfg.SourceByID("state-feed")
	require.True(t, ok)
	assert.Equal(t, 1, src.EffectiveClassificationFloor())
	assert.Equal(t, -1, src.EffectiveWeightingBias())
	assert.Equal(t, 2, src.EffectiveTrustTier())
	require.NotNil(t, src.Geo)
	assert.Equal(t, "IN", src.Geo.State)

	local, _ := cfg.SourceByID("local-news")
	assert.False(t, local.IsEnabled())
	global, _ := cfg.SourceByID("noaa-alerts")
	assert.True(t, global.IsEnabled())
	assert.Equal(t, 3, global.EffectiveTrustTier())

	_, ok = cfg.SourceByID("nope")
	assert.False(t, ok)
}

func TestParseSources_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing version": `
tiers:
  global: []
`,
		"missing url": `
version: "1.0.0"
tiers:
  global:
    - id: x
      type: rss
      tier: global
`,
		"bad tier name": `
version: "1.0.0"
tiers:
  cosmic:
    - id: x
      type: rss
      url: https://example.com
      tier: global
`,
		"trust tier out of range": `
version: "1.0.0"
tiers:
  global:
    - id: x
      type: rss
      url: https://example.com
      tier: global
      trust_tier: 9
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSources([]byte(doc))
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestParseSources_VersionGate(t *testing.T) {
	_, err := ParseSources([]byte(`
version: "not-a-version"
tiers:
  global: []
`))
	require.ErrorIs(t, err, ErrConfig)

	// A leading v is tolerated.
	cfg, err := ParseSources([]byte(`
version: "v2.0.0"
tiers:
  global: []
`))
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", cfg.Version)
}

func TestLoadSources_MissingFile(t *testing.T) {
	_, err := LoadSources(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrConfig)
}

func TestQualityConfig_Defaults(t *testing.T) {
	q := DefaultQuality()
	assert.Equal(t, 0.50, q.MinConfidenceClass1)
	assert.Equal(t, 0.70, q.MinConfidenceClass2)
	assert.Equal(t, "B", q.Policy())

	q.AllowQualityOverrideFloor = false
	assert.Equal(t, "A", q.Policy())
}

func TestLoadQuality(t *testing.T) {
	dir := t.TempDir()

	// Empty path means defaults.
	q, err := LoadQuality("")
	require.NoError(t, err)
	assert.Equal(t, DefaultQuality(), q)

	path := filepath.Join(dir, "quality.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_confidence_class_1: 0.4
min_confidence_class_2: 0.9
`), 0o644))
	q, err = LoadQuality(path)
	require.NoError(t, err)
	assert.Equal(t, 0.4, q.MinConfidenceClass1)
	assert.Equal(t, 0.9, q.MinConfidenceClass2)
	// Unset fields keep their defaults.
	assert.Equal(t, 0.50, q.MinConfidenceAmbiguous)
	assert.True(t, q.AllowQualityOverrideFloor)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`min_confidence_class_1: 1.5`), 0o644))
	_, err = LoadQuality(bad)
	require.ErrorIs(t, err, ErrConfig)

	inverted := filepath.Join(dir, "inverted.yaml")
	require.NoError(t, os.WriteFile(inverted, []byte(`
min_confidence_class_1: 0.9
min_confidence_class_2: 0.5
`), 0o644))
	_, err = LoadQuality(inverted)
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadApp(t *testing.T) {
	// Missing file falls back to defaults.
	app, err := LoadApp(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultApp(), app)

	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  sqlite_path: data/sentinel.db
  artifact_dir: data/incidents
  emit_run_records: true
sources_path: conf/sources.yaml
quality:
  min_confidence_class_2: 0.8
`), 0o644))
	app, err = LoadApp(path)
	require.NoError(t, err)
	assert.Equal(t, "data/sentinel.db", app.Storage.SQLitePath)
	assert.True(t, app.Storage.EmitRunRecord)
	assert.Equal(t, "conf/sources.yaml", app.SourcesPath)
	assert.Equal(t, 0.8, app.Quality.MinConfidenceClass2)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte(`storage: {sqlite_path: ""}`), 0o644))
	_, err = LoadApp(empty)
	require.ErrorIs(t, err, ErrConfig)
}
