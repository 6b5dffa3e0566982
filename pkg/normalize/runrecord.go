package normalize

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hardstop-labs/sentinel/pkg/canonicalize"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
)

// OperatorID names the canonicalization operator in run records.
const OperatorID = "canonicalization.normalize@1.0.0"

// ArtifactRef identifies one hashed input or output of an operator run.
type ArtifactRef struct {
	ID     string `json:"id"`
	Hash   string `json:"hash"`
	Kind   string `json:"kind"`
	Schema string `json:"schema"`
	Bytes  int    `json:"bytes,omitempty"`
}

// RunRecord links a raw item hash to the event hash it produced, under the
// operator id. Written canonical-JSON so pinned replays are byte-identical.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	OperatorID string        `json:"operator_id"`
	Mode       string        `json:"mode"`
	StartedAt  string        `json:"started_at"`
	EndedAt    string        `json:"ended_at"`
	Inputs     []ArtifactRef `json:"inputs"`
	Outputs    []ArtifactRef `json:"outputs"`
}

// EmitRunRecord writes the provenance record for one normalization to
// destDir and returns it. Timestamps come from the scope clock.
func EmitRunRecord(item *contracts.RawItem, ev *contracts.Event, scope *determinism.Scope, destDir string) (*RunRecord, error) {
	inputHash, err := canonicalize.Hash(item.Candidate())
	if err != nil {
		return nil, fmt.Errorf("hash raw item %s: %w", item.RawID, err)
	}
	eventBytes, err := canonicalize.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("hash event %s: %w", ev.EventID, err)
	}

	now := scope.Now().Format("2006-01-02T15:04:05Z")
	record := &RunRecord{
		RunID:      scope.NewRunID(),
		OperatorID: OperatorID,
		Mode:       scope.Mode(),
		StartedAt:  now,
		EndedAt:    now,
		Inputs: []ArtifactRef{{
			ID:     fmt.Sprintf("raw-item:%s:%s", item.SourceID, item.RawID),
			Hash:   inputHash,
			Kind:   "RawItemCandidate",
			Schema: "raw-items/v1",
		}},
		Outputs: []ArtifactRef{{
			ID:     "event:" + ev.EventID,
			Hash:   canonicalize.HashBytes(eventBytes),
			Kind:   "SignalCanonical",
			Schema: "signals/v1",
			Bytes:  len(eventBytes),
		}},
	}

	encoded, err := canonicalize.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode run record: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run record dir: %w", err)
	}
	path := filepath.Join(destDir, record.RunID+"__"+ev.EventID+".json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("write run record: %w", err)
	}
	return record, nil
}
