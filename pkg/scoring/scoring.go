// Package scoring computes the network impact score of a linked event from
// the inventory rows it resolved to. Rules fire at most once each, in a
// fixed order, so the breakdown is stable across runs.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/linker"
)

// Event types that always score the high-impact point.
var highImpactTypes = map[contracts.EventType]bool{
	contracts.EventSpill:   true,
	contracts.EventStrike:  true,
	contracts.EventClosure: true,
}

// Keywords that score the high-impact point when the type does not.
var highImpactKeywords = []string{"SPILL", "STRIKE", "CLOSURE", "CLOSED", "SHUTDOWN"}

// Score is the scorer output. Breakdown lists every rule that fired, in rule
// order; Rationale joins them for display.
type Score struct {
	Impact    int
	Breakdown []string
	Rationale string
}

// Classification maps the impact score onto the alert class.
func (s Score) Classification() int {
	return MapScoreToClassification(s.Impact)
}

// MapScoreToClassification buckets a score: 4+ is impactful, 2-3 relevant,
// otherwise interesting.
func MapScoreToClassification(impact int) int {
	switch {
	case impact >= 4:
		return 2
	case impact >= 2:
		return 1
	default:
		return 0
	}
}

// tierBonus adjusts for source trust: tier 3 adds a point, tier 1 removes
// one.
func tierBonus(trustTier int) int {
	switch trustTier {
	case 3:
		return 1
	case 1:
		return -1
	default:
		return 0
	}
}

// Calculate scores the event against its linked inventory rows. The 48-hour
// ETA check anchors on the scope clock, never wall time.
func Calculate(ev *contracts.Event, linked *linker.Result, scope *determinism.Scope) Score {
	score := 0
	var breakdown []string
	if linked == nil {
		linked = &linker.Result{}
	}

	for _, f := range linked.Facilities {
		if f.CriticalityScore >= 7 {
			score += 2
			breakdown = append(breakdown, fmt.Sprintf("+2: Facility criticality_score >= 7 (%s=%d)", f.FacilityID, f.CriticalityScore))
			break
		}
	}

	for _, l := range linked.Lanes {
		if l.VolumeScore >= 7 {
			score += 1
			breakdown = append(breakdown, fmt.Sprintf("+1: Lane volume_score >= 7 (%s=%d)", l.LaneID, l.VolumeScore))
			break
		}
	}

	if len(linked.Shipments) > 0 {
		var priority []contracts.Shipment
		for _, s := range linked.Shipments {
			if s.PriorityFlag {
				priority = append(priority, s)
			}
		}
		if len(priority) > 0 {
			score += 1
			breakdown = append(breakdown, fmt.Sprintf("+1: Priority shipments found (%d total)", len(priority)))

			if len(priority) >= 5 {
				score += 1
				breakdown = append(breakdown, fmt.Sprintf("+1: >=5 priority shipments (%d)", len(priority)))
			}

			today := scope.Now().UTC().Truncate(24 * time.Hour)
			cutoff := today.AddDate(0, 0, 2)
			nearTerm := 0
			for _, s := range priority {
				if s.ETADate == "" {
					continue
				}
				eta, err := time.Parse("2006-01-02", s.ETADate)
				if err != nil {
					continue
				}
				if !eta.Before(today) && !eta.After(cutoff) {
					nearTerm++
				}
			}
			if nearTerm > 0 {
				score += 1
				breakdown = append(breakdown, fmt.Sprintf("+1: Priority shipment ETA within 48h (%d shipments)", nearTerm))
			}
		}

		if len(linked.Shipments) >= 10 {
			score += 1
			breakdown = append(breakdown, fmt.Sprintf("+1: Shipment count >= 10 (%d)", len(linked.Shipments)))
		}
	}

	if highImpactTypes[ev.EventType] {
		score += 1
		breakdown = append(breakdown, fmt.Sprintf("+1: Event type in high-impact types (%s)", ev.EventType))
	} else if kw := matchKeyword(ev.CombinedText()); kw != "" {
		score += 1
		breakdown = append(breakdown, fmt.Sprintf("+1: High-impact keyword detected (%s)", kw))
	}

	if adj := ev.WeightingBias + tierBonus(ev.TrustTier); adj != 0 {
		score += adj
		breakdown = append(breakdown, fmt.Sprintf("%+d: Source weighting (bias=%d, trust_tier=%d)", adj, ev.WeightingBias, ev.TrustTier))
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}

	if len(breakdown) == 0 {
		breakdown = append(breakdown, "No impact factors detected")
	}
	return Score{
		Impact:    score,
		Breakdown: breakdown,
		Rationale: strings.Join(breakdown, "; "),
	}
}

func matchKeyword(text string) string {
	upper := strings.ToUpper(text)
	for _, kw := range highImpactKeywords {
		if strings.Contains(upper, kw) {
			return kw
		}
	}
	return ""
}
