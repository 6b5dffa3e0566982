// Package correlate folds canonical events into persistent alerts. Events
// sharing a correlation key within the window update one alert instead of
// spawning duplicates; the alert's scope only ever grows.
package correlate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

// Window is how far back a key still matches an existing alert.
const Window = 7 * 24 * time.Hour

// BuildKey forms {risk_bucket}|{first_facility_or_NONE}|{first_lane_or_NONE}.
// The bucket is the event type, inferred by keyword when the type is absent.
func BuildKey(ev *contracts.Event) string {
	bucket := strings.ToUpper(string(ev.EventType))
	if bucket == "" {
		bucket = inferBucket(ev.CombinedText())
	}
	return bucket + "|" + firstOrNone(ev.Facilities) + "|" + firstOrNone(ev.Lanes)
}

func inferBucket(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "spill"):
		return "SPILL"
	case strings.Contains(lower, "strike"), strings.Contains(lower, "walkout"):
		return "STRIKE"
	case strings.Contains(lower, "closure"), strings.Contains(lower, "closed"),
		strings.Contains(lower, "shutdown"), strings.Contains(lower, "shut down"):
		return "CLOSURE"
	default:
		return "GENERAL"
	}
}

// firstOrNone returns the lexicographic minimum after dropping empties and
// duplicates.
func firstOrNone(ids []string) string {
	min := ""
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if min == "" || id < min {
			min = id
		}
	}
	if min == "" {
		return "NONE"
	}
	return min
}

// MergeScope unions the incoming scope into the existing one. Each id set
// keeps first-seen order: existing ids first, new ids appended, first
// occurrence wins. The total-linked count takes the maximum and truncation
// is sticky.
func MergeScope(existing, incoming contracts.Scope) contracts.Scope {
	return contracts.Scope{
		Facilities:           unionPreserveOrder(existing.Facilities, incoming.Facilities),
		Lanes:                unionPreserveOrder(existing.Lanes, incoming.Lanes),
		Shipments:            unionPreserveOrder(existing.Shipments, incoming.Shipments),
		ShipmentsTotalLinked: max(existing.ShipmentsTotalLinked, incoming.ShipmentsTotalLinked),
		ShipmentsTruncated:   existing.ShipmentsTruncated || incoming.ShipmentsTruncated,
	}
}

func unionPreserveOrder(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := map[string]bool{}
	for _, id := range append(append([]string{}, existing...), incoming...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ScopeFromEvent snapshots the event's resolved network footprint.
func ScopeFromEvent(ev *contracts.Event) contracts.Scope {
	total := ev.ShipmentsTotalLinked
	if total == 0 {
		total = len(ev.Shipments)
	}
	return contracts.Scope{
		Facilities:           append([]string{}, ev.Facilities...),
		Lanes:                append([]string{}, ev.Lanes...),
		Shipments:            append([]string{}, ev.Shipments...),
		ShipmentsTotalLinked: total,
		ShipmentsTruncated:   ev.ShipmentsTruncated,
	}
}

// Input is everything the upsert stores on the alert row.
type Input struct {
	Event          *contracts.Event
	Classification int
	ImpactScore    int
	Diagnostics    *contracts.Diagnostics
	Reasoning      []string
	Actions        []contracts.RecommendedAction
}

// Upsert creates or updates the alert for the event's correlation key inside
// the given transaction. The returned alert reflects the stored row; the
// action reports which path ran.
func Upsert(ctx context.Context, tx *store.Tx, in Input, scope *determinism.Scope) (*contracts.Alert, contracts.CorrelationAction, error) {
	ev := in.Event
	key := BuildKey(ev)
	now := scope.Now().UTC()

	existing, err := tx.FindRecentAlertByKey(ctx, key, Window, now)
	if err != nil {
		return nil, "", fmt.Errorf("find alert for key %s: %w", key, err)
	}

	summary := ev.Title
	if summary == "" {
		summary = "Risk event detected"
	}

	if existing == nil {
		alert := &contracts.Alert{
			AlertID:           scope.NewAlertID(),
			RiskType:          strings.SplitN(key, "|", 2)[0],
			Classification:    in.Classification,
			Status:            contracts.AlertOpen,
			Summary:           summary,
			RootEventID:       ev.EventID,
			CorrelationKey:    key,
			CorrelationAction: contracts.ActionCreated,
			Scope:             ScopeFromEvent(ev),
			ImpactScore:       in.ImpactScore,
			Diagnostics:       in.Diagnostics,
			Reasoning:         in.Reasoning,
			Actions:           in.Actions,
			Tier:              ev.Tier,
			SourceID:          ev.SourceID,
			TrustTier:         ev.TrustTier,
			FirstSeenUTC:      now,
			LastSeenUTC:       now,
			UpdateCount:       1,
		}
		if err := tx.InsertAlert(ctx, alert); err != nil {
			return nil, "", err
		}
		return alert, contracts.ActionCreated, nil
	}

	existing.Scope = MergeScope(existing.Scope, ScopeFromEvent(ev))
	existing.Summary = summary
	existing.Classification = in.Classification
	existing.RootEventID = ev.EventID
	existing.ImpactScore = in.ImpactScore
	existing.Diagnostics = in.Diagnostics
	existing.Reasoning = in.Reasoning
	if len(in.Actions) > 0 {
		existing.Actions = in.Actions
	}
	existing.Status = contracts.AlertUpdated
	existing.CorrelationAction = contracts.ActionUpdated
	existing.Tier = ev.Tier
	existing.SourceID = ev.SourceID
	existing.TrustTier = ev.TrustTier
	if now.After(existing.LastSeenUTC) {
		existing.LastSeenUTC = now
	}
	existing.UpdateCount++

	if err := tx.UpdateAlert(ctx, existing); err != nil {
		return nil, "", err
	}
	return existing, contracts.ActionUpdated, nil
}
