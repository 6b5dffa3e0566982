package normalize

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
)

func TestExtractEventType(t *testing.T) {
	cases := []struct {
		title, body string
		want        contracts.EventType
	}{
		{"Hurricane warning issued", "", contracts.EventWeather},
		{"Chemical spill at plant", "", contracts.EventSpill},
		{"Workers announce walkout", "", contracts.EventStrike},
		{"Port shut down after incident", "", contracts.EventClosure},
		{"New compliance regulation", "", contracts.EventReg},
		{"Product recalled nationwide", "", contracts.EventRecall},
		{"Quarterly earnings report", "", contracts.EventOther},
		// Group order decides: "storm" (weather) beats "closed" (closure).
		{"Storm forces road closed", "", contracts.EventWeather},
		// Body text counts too.
		{"Local update", "an oil spill was reported", contracts.EventSpill},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExtractEventType(c.title, c.body), "title=%q", c.title)
	}
}

func TestExtractLocationHint_GeoWins(t *testing.T) {
	payload := map[string]any{"areaDesc": "Marion County"}
	geo := &config.Geo{City: "Avon", State: "IN", Country: "US"}
	assert.Equal(t, "Avon, IN, US", ExtractLocationHint(payload, geo))
}

func TestExtractLocationHint_PayloadFieldOrder(t *testing.T) {
	payload := map[string]any{
		"region":   "Midwest",
		"areaDesc": "Hendricks County",
	}
	assert.Equal(t, "Hendricks County", ExtractLocationHint(payload, nil))
}

func TestExtractLocationHint_TextRegexFallback(t *testing.T) {
	payload := map[string]any{
		"description": "Flooding reported near Terre Haute, IN this morning",
	}
	assert.Equal(t, "Terre Haute, IN", ExtractLocationHint(payload, nil))
}

func TestExtractLocationHint_NoMatch(t *testing.T) {
	payload := map[string]any{"description": "nothing locatable here"}
	assert.Equal(t, "", ExtractLocationHint(payload, nil))
}

func testItem() *contracts.RawItem {
	return &contracts.RawItem{
		RawID:          "RAW-20251229-00000001",
		SourceID:       "noaa-alerts",
		Tier:           contracts.TierGlobal,
		CanonicalID:    "EVT-CANONICAL-0001",
		Title:          "Chemical spill at PLANT-01 facility",
		URL:            "https://example.com/spill",
		PublishedAtUTC: "2025-12-28T18:00:00Z",
		Payload: map[string]any{
			"summary": "A chemical spill was reported at the Avon, IN plant.",
		},
	}
}

func TestNormalize_TrustInjectionDefaults(t *testing.T) {
	scope := determinism.Pinned(determinism.Context{Seed: 1, Timestamp: time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)})
	ev, err := Normalize(testItem(), config.Source{ID: "noaa-alerts"}, scope)
	require.NoError(t, err)

	assert.Equal(t, 2, ev.TrustTier)
	assert.Equal(t, 0, ev.ClassificationFloor)
	assert.Equal(t, 0, ev.WeightingBias)
	assert.Equal(t, contracts.EventSpill, ev.EventType)
	assert.Equal(t, "noaa-alerts", ev.SourceID)
	assert.Empty(t, ev.Facilities)
}

func TestNormalize_TrustInjectionFromSource(t *testing.T) {
	scope := determinism.Live()
	three, one := 3, 1
	src := config.Source{ID: "s", TrustTier: &three, ClassificationFloor: &one, WeightingBias: &one}
	ev, err := Normalize(testItem(), src, scope)
	require.NoError(t, err)

	assert.Equal(t, 3, ev.TrustTier)
	assert.Equal(t, 1, ev.ClassificationFloor)
	assert.Equal(t, 1, ev.WeightingBias)
}

func TestNormalize_EventIDPreference(t *testing.T) {
	scope := determinism.Live()

	item := testItem()
	item.Payload["event_id"] = "EVT-FROM-PAYLOAD"
	ev, err := Normalize(item, config.Source{}, scope)
	require.NoError(t, err)
	assert.Equal(t, "EVT-FROM-PAYLOAD", ev.EventID)

	item = testItem()
	ev, err = Normalize(item, config.Source{}, scope)
	require.NoError(t, err)
	assert.Equal(t, "EVT-CANONICAL-0001", ev.EventID)

	item = testItem()
	item.CanonicalID = ""
	ev, err = Normalize(item, config.Source{}, scope)
	require.NoError(t, err)
	assert.Equal(t, "RAW-20251229-00000001", ev.EventID)
}

func TestNormalize_NilPayloadIsItemParseError(t *testing.T) {
	item := testItem()
	item.Payload = nil
	_, err := Normalize(item, config.Source{}, determinism.Live())
	require.Error(t, err)
	assert.True(t, IsItemParseError(err))
}

func TestNormalize_RawTextJoinsFields(t *testing.T) {
	item := testItem()
	item.Payload["body"] = "Emergency crews on site."
	ev, err := Normalize(item, config.Source{}, determinism.Live())
	require.NoError(t, err)
	assert.Contains(t, ev.RawText, item.Title)
	assert.Contains(t, ev.RawText, "Avon, IN")
	assert.Contains(t, ev.RawText, "Emergency crews on site.")
}

func TestNormalize_PayloadFacilitiesCarryOnto_Event(t *testing.T) {
	// Feed-supplied facility ids decode as []any and must survive onto the
	// event so the linker can treat them as provided.
	item := testItem()
	item.Payload["facilities"] = []any{"PLANT-01", "DC-05", "PLANT-01", " ", 7}
	ev, err := Normalize(item, config.Source{}, determinism.Live())
	require.NoError(t, err)
	assert.Equal(t, []string{"PLANT-01", "DC-05"}, ev.Facilities)

	// A non-list value yields an empty, non-nil slice.
	item = testItem()
	item.Payload["facilities"] = "PLANT-01"
	ev, err = Normalize(item, config.Source{}, determinism.Live())
	require.NoError(t, err)
	assert.NotNil(t, ev.Facilities)
	assert.Empty(t, ev.Facilities)
}

func TestEmitRunRecord_PinnedIsDeterministic(t *testing.T) {
	ctx := determinism.Context{Seed: 42, Timestamp: time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC), RunID: "R1"}

	run := func(dir string) *RunRecord {
		scope := determinism.Pinned(ctx)
		item := testItem()
		ev, err := Normalize(item, config.Source{ID: "noaa-alerts"}, scope)
		require.NoError(t, err)
		rec, err := EmitRunRecord(item, ev, scope, dir)
		require.NoError(t, err)
		return rec
	}

	dir1 := filepath.Join(t.TempDir(), "a")
	dir2 := filepath.Join(t.TempDir(), "b")
	r1 := run(dir1)
	r2 := run(dir2)

	assert.Equal(t, r1, r2)
	assert.Equal(t, OperatorID, r1.OperatorID)
	assert.Equal(t, "R1", r1.RunID)
	require.Len(t, r1.Inputs, 1)
	require.Len(t, r1.Outputs, 1)
	assert.NotEmpty(t, r1.Inputs[0].Hash)
	assert.NotEmpty(t, r1.Outputs[0].Hash)
}
