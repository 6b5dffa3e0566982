// Package evidence assembles the per-alert audit record: the diagnostics
// blob stored on the alert row and the immutable incident artifact written
// beside the database. Artifacts are canonical JSON so their hashes replay
// byte-identically in pinned mode.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hardstop-labs/sentinel/pkg/canonicalize"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/quality"
	"github.com/hardstop-labs/sentinel/pkg/scoring"
)

// BuildDiagnostics packs the scorer and validator outputs into the blob
// stored on the alert row.
func BuildDiagnostics(ev *contracts.Event, score scoring.Score, v quality.Validation, policy string) *contracts.Diagnostics {
	linkConfidence := ev.LinkConfidence
	if linkConfidence == nil {
		linkConfidence = map[string]float64{}
	}
	linkProvenance := ev.LinkProvenance
	if linkProvenance == nil {
		linkProvenance = map[string]string{}
	}
	total := ev.ShipmentsTotalLinked
	if total == 0 {
		total = len(ev.Shipments)
	}
	return &contracts.Diagnostics{
		LinkConfidence:       linkConfidence,
		LinkProvenance:       linkProvenance,
		ShipmentsTotalLinked: total,
		ShipmentsTruncated:   ev.ShipmentsTruncated,
		ImpactScore:          score.Impact,
		ImpactScoreBreakdown: score.Breakdown,
		ImpactScoreRationale: score.Rationale,
		QualityValidation: contracts.QualityValidation{
			MaxAllowedClassification: v.MaxAllowedClass,
			HighImpactFactorsCount:   v.HighImpactFactors,
			FacilityConfidence:       v.FacilityConfidence,
			FacilityProvenance:       v.FacilityProvenance,
			AppliedPolicy:            policy,
		},
	}
}

// Correlation records how the alert upsert resolved. Action is empty when no
// persistence session was involved.
type Correlation struct {
	Key     string `json:"key"`
	Action  string `json:"action,omitempty"`
	AlertID string `json:"alert_id,omitempty"`
}

// Source identifies the feed the root event came from.
type Source struct {
	ID        string         `json:"id"`
	Tier      contracts.Tier `json:"tier"`
	RawID     string         `json:"raw_id"`
	URL       string         `json:"url,omitempty"`
	TrustTier int            `json:"trust_tier"`
}

// ArtifactInputs is the self-contained snapshot an artifact carries.
type ArtifactInputs struct {
	Event *contracts.Event `json:"event"`
	Scope contracts.Scope  `json:"scope"`
}

// Artifact is the on-disk incident evidence document. ArtifactHash is the
// SHA-256 of the canonical JSON of the document with the hash field empty;
// it is recorded here and on the alert row.
type Artifact struct {
	AlertID            string               `json:"alert_id"`
	EventID            string               `json:"event_id"`
	CorrelationKey     string               `json:"correlation_key"`
	GeneratedAtUTC     string               `json:"generated_at_utc"`
	DeterminismMode    string               `json:"determinism_mode"`
	DeterminismContext *determinism.Context `json:"determinism_context,omitempty"`
	Inputs             ArtifactInputs       `json:"inputs"`
	MergeReasons       []string             `json:"merge_reasons"`
	MergeSummary       []string             `json:"merge_summary"`
	Correlation        Correlation          `json:"correlation"`
	Source             *Source              `json:"source,omitempty"`
	ArtifactHash       string               `json:"artifact_hash,omitempty"`
}

// Filename forms {alert_id}__{event_id}__{key with | replaced by _}.json.
func Filename(alertID, eventID, correlationKey string) string {
	return alertID + "__" + eventID + "__" + strings.ReplaceAll(correlationKey, "|", "_") + ".json"
}

// Build assembles the artifact for one alert upsert. action is the
// correlation action, or empty when nothing was persisted.
func Build(alert *contracts.Alert, ev *contracts.Event, action contracts.CorrelationAction, scope *determinism.Scope) *Artifact {
	a := &Artifact{
		AlertID:         alert.AlertID,
		EventID:         ev.EventID,
		CorrelationKey:  alert.CorrelationKey,
		GeneratedAtUTC:  scope.Now().UTC().Format("2006-01-02T15:04:05Z"),
		DeterminismMode: scope.Mode(),
		Inputs: ArtifactInputs{
			Event: ev,
			Scope: alert.Scope,
		},
		Correlation: Correlation{
			Key:     alert.CorrelationKey,
			Action:  string(action),
			AlertID: alert.AlertID,
		},
	}
	if ctx, ok := scope.Context(); ok {
		a.DeterminismContext = &ctx
	}
	if ev.SourceID != "" {
		a.Source = &Source{
			ID:        ev.SourceID,
			Tier:      ev.Tier,
			RawID:     ev.RawID,
			URL:       ev.URL,
			TrustTier: ev.TrustTier,
		}
	}
	switch action {
	case contracts.ActionUpdated:
		a.MergeReasons = []string{
			fmt.Sprintf("Event %s correlated to existing alert %s via key %s", ev.EventID, alert.AlertID, alert.CorrelationKey),
		}
		a.MergeSummary = []string{
			fmt.Sprintf("Correlated to existing alert_id=%s via key=%s", alert.AlertID, alert.CorrelationKey),
		}
	default:
		a.MergeReasons = []string{
			fmt.Sprintf("Event %s opened alert %s", ev.EventID, alert.AlertID),
		}
		a.MergeSummary = []string{
			fmt.Sprintf("Created new correlated alert via key=%s", alert.CorrelationKey),
		}
	}
	return a
}

// Write hashes the artifact, embeds the hash, and writes it write-once under
// dir. If the file already exists it is left untouched and the hash of the
// bytes on disk is returned.
func Write(a *Artifact, dir string) (path, hash string, err error) {
	withoutHash := *a
	withoutHash.ArtifactHash = ""
	body, err := canonicalize.Marshal(&withoutHash)
	if err != nil {
		return "", "", fmt.Errorf("encode artifact for %s: %w", a.AlertID, err)
	}
	hash = canonicalize.HashBytes(body)
	a.ArtifactHash = hash

	final, err := canonicalize.Marshal(a)
	if err != nil {
		return "", "", fmt.Errorf("encode artifact for %s: %w", a.AlertID, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create artifact dir: %w", err)
	}
	path = filepath.Join(dir, Filename(a.AlertID, a.EventID, a.CorrelationKey))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			existing, readErr := os.ReadFile(path)
			if readErr != nil {
				return "", "", fmt.Errorf("read existing artifact %s: %w", path, readErr)
			}
			return path, hashOnDisk(existing), nil
		}
		return "", "", fmt.Errorf("create artifact %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(final); err != nil {
		return "", "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, hash, nil
}

// hashOnDisk recovers the recorded hash from existing artifact bytes by
// rehashing them with the hash field cleared. Falls back to hashing the raw
// bytes if the document cannot be decoded.
func hashOnDisk(raw []byte) string {
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return canonicalize.HashBytes(raw)
	}
	if a.ArtifactHash != "" {
		return a.ArtifactHash
	}
	return canonicalize.HashBytes(raw)
}
