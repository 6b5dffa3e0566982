// Package ingest is the orchestrator: it drains NEW raw items through
// canonicalization, network linking, scoring, quality validation,
// correlation and evidence emission. Items are processed strictly in fetch
// order, each inside its own transaction, and one bad item never stalls the
// batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/correlate"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/evidence"
	"github.com/hardstop-labs/sentinel/pkg/linker"
	"github.com/hardstop-labs/sentinel/pkg/normalize"
	"github.com/hardstop-labs/sentinel/pkg/observability"
	"github.com/hardstop-labs/sentinel/pkg/quality"
	"github.com/hardstop-labs/sentinel/pkg/scoring"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

// Options filters the batch of raw items to process.
type Options struct {
	Limit      int
	MinTier    contracts.Tier
	SourceID   string
	SinceHours int
}

// Summary is the structural result of one ingest run.
type Summary struct {
	Processed int `json:"processed"`
	Events    int `json:"events"`
	Alerts    int `json:"alerts"`
	Errors    int `json:"errors"`
}

// Pipeline holds the wiring for ingest runs. Zero-value optional fields are
// fine: a nil logger logs nowhere useful, so callers usually set one.
type Pipeline struct {
	DB             *store.DB
	Sources        *config.SourcesConfig
	Quality        config.QualityConfig
	Linker         linker.Config
	ArtifactDir    string
	RunRecordDir   string
	EmitRunRecords bool
	Log            *slog.Logger
	Metrics        *observability.Metrics
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Ingest drains a batch. Cancellation is honored at item boundaries only; a
// cancelled in-flight item rolls back and stays NEW. Store and determinism
// failures abort the batch; everything else is converted to a per-item
// FAILED status.
func (p *Pipeline) Ingest(ctx context.Context, opts Options, scope *determinism.Scope) (Summary, error) {
	var sum Summary
	log := p.logger()

	items, err := p.DB.ItemsForIngest(ctx, store.IngestFilter{
		Limit:      opts.Limit,
		MinTier:    opts.MinTier,
		SourceID:   opts.SourceID,
		SinceHours: opts.SinceHours,
		Now:        scope.Now(),
	})
	if err != nil {
		return sum, err
	}
	log.Info("ingest batch start", "items", len(items), "mode", scope.Mode())

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if err := p.processItem(ctx, item, scope); err != nil {
			if isFatal(err) {
				return sum, err
			}
			sum.Errors++
			p.Metrics.ItemFailed(ctx, item.SourceID)
			log.Warn("item failed", "raw_id", item.RawID, "source_id", item.SourceID, "err", err)
			if markErr := p.DB.MarkRawItemStatus(ctx, item.RawID, contracts.RawStatusFailed, err.Error()); markErr != nil {
				return sum, markErr
			}
			continue
		}

		sum.Processed++
		sum.Events++
		sum.Alerts++
		p.Metrics.ItemProcessed(ctx, item.SourceID)
	}

	log.Info("ingest batch done",
		"processed", sum.Processed, "events", sum.Events, "alerts", sum.Alerts, "errors", sum.Errors)
	return sum, nil
}

// processItem runs one raw item through the full pipeline and marks it
// NORMALIZED on success.
func (p *Pipeline) processItem(ctx context.Context, item *contracts.RawItem, scope *determinism.Scope) error {
	var src config.Source
	ok := false
	if p.Sources != nil {
		src, ok = p.Sources.SourceByID(item.SourceID)
	}
	if !ok {
		// Unknown sources still ingest, with default trust metadata.
		src = config.Source{ID: item.SourceID, Tier: item.Tier}
	}

	ev, err := normalize.Normalize(item, src, scope)
	if err != nil {
		return err
	}

	err = p.DB.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.SaveEvent(ctx, ev); err != nil {
			return err
		}
		p.Metrics.EventCreated(ctx, item.SourceID)

		linked, err := linker.Link(ctx, ev, tx, scope, p.Linker)
		if err != nil {
			return err
		}

		score := scoring.Calculate(ev, linked, scope)
		validation := quality.Validate(ev, score.Impact, score.Breakdown, p.Quality)
		final, policyNotes := quality.ApplyPolicy(
			score.Classification(), validation.MaxAllowedClass, ev.ClassificationFloor, p.Quality)

		reasoning := baseReasoning(ev, final, score, validation)
		if final != score.Classification() {
			reasoning = append(reasoning, validation.Reasoning...)
		}
		reasoning = append(reasoning, policyNotes...)

		diag := evidence.BuildDiagnostics(ev, score, validation, p.Quality.Policy())

		alert, action, err := correlate.Upsert(ctx, tx, correlate.Input{
			Event:          ev,
			Classification: final,
			ImpactScore:    score.Impact,
			Diagnostics:    diag,
			Reasoning:      reasoning,
			Actions:        defaultActions(),
		}, scope)
		if err != nil {
			return err
		}
		p.Metrics.AlertUpserted(ctx, string(action))

		artifact := evidence.Build(alert, ev, action, scope)
		path, hash, err := evidence.Write(artifact, p.ArtifactDir)
		if err != nil {
			return err
		}
		return tx.SetAlertArtifact(ctx, alert.AlertID, path, hash)
	})
	if err != nil {
		return err
	}

	if p.EmitRunRecords {
		if _, err := normalize.EmitRunRecord(item, ev, scope, p.RunRecordDir); err != nil {
			return fmt.Errorf("emit run record for %s: %w", item.RawID, err)
		}
	}
	return p.DB.MarkRawItemStatus(ctx, item.RawID, contracts.RawStatusNormalized, "")
}

func baseReasoning(ev *contracts.Event, final int, score scoring.Score, v quality.Validation) []string {
	return []string{
		fmt.Sprintf("Event type: %s", ev.EventType),
		fmt.Sprintf("Classification: %d (from network_impact_score=%d, quality_cap=%d)",
			final, score.Impact, v.MaxAllowedClass),
		"Scope derived from network entity matching.",
	}
}

func defaultActions() []contracts.RecommendedAction {
	return []contracts.RecommendedAction{{
		ID:             "ACT-VERIFY",
		Description:    "Verify status with responsible operator or facility.",
		OwnerRole:      "Operations / Supply Chain",
		DueWithinHours: 4,
	}}
}

// isFatal reports errors that must abort the batch instead of failing one
// item: store trouble and determinism violations.
func isFatal(err error) bool {
	return errors.Is(err, store.ErrStore) ||
		errors.Is(err, store.ErrTerminalStatus) ||
		errors.Is(err, determinism.ErrViolation) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
