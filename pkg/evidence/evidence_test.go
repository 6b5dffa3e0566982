package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardstop-labs/sentinel/pkg/canonicalize"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/quality"
	"github.com/hardstop-labs/sentinel/pkg/scoring"
)

func pinned() *determinism.Scope {
	return determinism.Pinned(determinism.Context{
		Seed:      11,
		Timestamp: time.Date(2025, 12, 29, 6, 0, 0, 0, time.UTC),
		RunID:     "R-EVID",
	})
}

func sampleEvent() *contracts.Event {
	return &contracts.Event{
		EventID:    "EVT-1",
		SourceID:   "noaa-alerts",
		RawID:      "RAW-1",
		Tier:       contracts.TierGlobal,
		TrustTier:  2,
		EventType:  contracts.EventSpill,
		Title:      "Spill at PLANT-01",
		URL:        "https://example.com/a",
		Facilities: []string{"PLANT-01"},
		Lanes:      []string{"LANE-001"},
		Shipments:  []string{"SHP-1"},
		LinkConfidence: map[string]float64{
			contracts.ChannelFacility: 1.0,
		},
		LinkProvenance: map[string]string{
			contracts.ChannelFacility: contracts.ProvenanceFacilityIDExact,
		},
	}
}

func sampleAlert() *contracts.Alert {
	return &contracts.Alert{
		AlertID:        "ALERT-20251229-00000001",
		CorrelationKey: "SPILL|PLANT-01|LANE-001",
		Scope: contracts.Scope{
			Facilities: []string{"PLANT-01"},
			Lanes:      []string{"LANE-001"},
			Shipments:  []string{"SHP-1"},
		},
	}
}

func TestBuildDiagnostics(t *testing.T) {
	ev := sampleEvent()
	score := scoring.Score{Impact: 5, Breakdown: []string{"+2: Facility criticality_score >= 7 (PLANT-01=8)"}, Rationale: "x"}
	v := quality.Validation{
		MaxAllowedClass:    2,
		HighImpactFactors:  2,
		FacilityConfidence: 1.0,
		FacilityProvenance: contracts.ProvenanceFacilityIDExact,
	}
	d := BuildDiagnostics(ev, score, v, "B")

	assert.Equal(t, 5, d.ImpactScore)
	assert.Equal(t, 1, d.ShipmentsTotalLinked)
	assert.Equal(t, 2, d.QualityValidation.MaxAllowedClassification)
	assert.Equal(t, "B", d.QualityValidation.AppliedPolicy)
	assert.Equal(t, contracts.ProvenanceFacilityIDExact, d.QualityValidation.FacilityProvenance)
}

func TestBuildDiagnostics_NilMapsBecomeEmpty(t *testing.T) {
	ev := &contracts.Event{EventID: "E", Shipments: []string{}}
	d := BuildDiagnostics(ev, scoring.Score{}, quality.Validation{}, "A")
	assert.NotNil(t, d.LinkConfidence)
	assert.NotNil(t, d.LinkProvenance)
}

func TestFilename(t *testing.T) {
	got := Filename("ALERT-1", "EVT-1", "SPILL|PLANT-01|LANE-001")
	assert.Equal(t, "ALERT-1__EVT-1__SPILL_PLANT-01_LANE-001.json", got)
}

func TestWrite_EmbedsHashAndIsCanonical(t *testing.T) {
	dir := t.TempDir()
	a := Build(sampleAlert(), sampleEvent(), contracts.ActionCreated, pinned())
	require.NotNil(t, a.DeterminismContext)
	assert.Equal(t, determinism.ModePinned, a.DeterminismMode)

	path, hash, err := Write(a, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, Filename(a.AlertID, a.EventID, a.CorrelationKey)), path)
	assert.Len(t, hash, 64)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk Artifact
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, hash, onDisk.ArtifactHash)

	// The recorded hash covers the document with the hash field cleared.
	onDisk.ArtifactHash = ""
	body, err := canonicalize.Marshal(&onDisk)
	require.NoError(t, err)
	assert.Equal(t, hash, canonicalize.HashBytes(body))
}

func TestWrite_PinnedReplayIsByteIdentical(t *testing.T) {
	write := func(dir string) []byte {
		a := Build(sampleAlert(), sampleEvent(), contracts.ActionCreated, pinned())
		path, _, err := Write(a, dir)
		require.NoError(t, err)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		return raw
	}
	first := write(t.TempDir())
	second := write(t.TempDir())
	assert.Equal(t, first, second)
}

func TestWrite_IsWriteOnce(t *testing.T) {
	dir := t.TempDir()
	a := Build(sampleAlert(), sampleEvent(), contracts.ActionCreated, pinned())
	path, hash1, err := Write(a, dir)
	require.NoError(t, err)

	// Tamper detection: a second write must not clobber the file.
	b := Build(sampleAlert(), sampleEvent(), contracts.ActionCreated, pinned())
	b.MergeReasons = []string{"different content"}
	path2, hash2, err := Write(b, dir)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
	assert.Equal(t, hash1, hash2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "different content")
}

func TestBuild_UpdatedMergeReasons(t *testing.T) {
	a := Build(sampleAlert(), sampleEvent(), contracts.ActionUpdated, determinism.Live())
	assert.Equal(t, determinism.ModeLive, a.DeterminismMode)
	assert.Nil(t, a.DeterminismContext)
	require.NotEmpty(t, a.MergeReasons)
	assert.Contains(t, a.MergeReasons[0], "correlated to existing alert")
	assert.Contains(t, a.MergeSummary[0], "key=SPILL|PLANT-01|LANE-001")
	require.NotNil(t, a.Source)
	assert.Equal(t, "noaa-alerts", a.Source.ID)
}
