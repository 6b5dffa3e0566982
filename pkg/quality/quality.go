// Package quality caps alert classification by evidence strength. The cap is
// computed from facility link confidence and provenance plus compensating
// signals, then composed with the source classification floor under the
// configured policy.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

const (
	keywordAlt = `(SPILL|LEAK|STRIKE|WALKOUT|CLOSURE|CLOSED|SHUTDOWN|SHUT\s+DOWN|FIRE|EXPLOSION)`
	nounAlt    = `(PLANT|FACILITY|WAREHOUSE|PORT|TERMINAL|REFINERY|DC|DISTRIBUTION|LOGISTICS|SHIPMENT|LANE|RAIL|TRUCK|CARRIER)`
)

var (
	keywordThenNoun = regexp.MustCompile(`\b` + keywordAlt + `\b.*\b` + nounAlt + `\b`)
	nounThenKeyword = regexp.MustCompile(`\b` + nounAlt + `\b.*\b` + keywordAlt + `\b`)

	cityStateSignal  = regexp.MustCompile(`\b([A-Z][a-z]+),\s*([A-Z]{2}|[A-Z][a-z]+)\b`)
	facilityIDSignal = regexp.MustCompile(`\b(PLANT|DC|FACILITY)-[A-Z0-9]+\b`)
	dateSignal       = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
)

// Standalone keywords that count without an operational noun when the text
// carries a location signal.
var standaloneKeywords = []string{"SPILL", "STRIKE", "CLOSURE", "SHUTDOWN", "FIRE", "EXPLOSION"}

// DetectHighImpactKeywords matches disruption keywords with context
// awareness: a keyword must appear near an operational noun, or alone with a
// location signal. This rejects phrases like "strike price" and "fire sale".
func DetectHighImpactKeywords(text string) (bool, []string) {
	upper := strings.ToUpper(text)

	var matched []string
	seen := map[string]bool{}
	add := func(kw string) {
		kw = canonicalKeyword(kw)
		if !seen[kw] {
			seen[kw] = true
			matched = append(matched, kw)
		}
	}

	if m := keywordThenNoun.FindStringSubmatch(upper); m != nil {
		add(m[1])
	}
	if m := nounThenKeyword.FindStringSubmatch(upper); m != nil {
		add(m[2])
	}

	hasLocationSignal := cityStateSignal.MatchString(text) ||
		facilityIDSignal.MatchString(upper) ||
		dateSignal.MatchString(text)
	if hasLocationSignal {
		for _, kw := range standaloneKeywords {
			if strings.Contains(upper, kw) {
				add(kw)
			}
		}
	}
	return len(matched) > 0, matched
}

// canonicalKeyword folds closure spellings into CLOSURE and leak into SPILL
// so the matched list reads as risk buckets, not raw tokens.
func canonicalKeyword(kw string) string {
	switch strings.Join(strings.Fields(kw), " ") {
	case "LEAK":
		return "SPILL"
	case "WALKOUT":
		return "STRIKE"
	case "CLOSED", "SHUTDOWN", "SHUT DOWN":
		return "CLOSURE"
	case "EXPLOSION":
		return "FIRE"
	default:
		return kw
	}
}

// Validation is the validator's verdict for one event.
type Validation struct {
	MaxAllowedClass      int
	Reasoning            []string
	HighImpactFactors    int
	HasHighImpactKeyword bool
	MatchedKeywords      []string
	FacilityConfidence   float64
	FacilityProvenance   string
}

// CountHighImpactFactors counts, capped at four: criticality in the
// breakdown, volume in the breakdown, priority shipments in the breakdown,
// and a high-impact keyword.
func CountHighImpactFactors(breakdown []string, hasKeyword bool) int {
	count := 0
	checks := []string{"criticality_score >= 7", "volume_score >= 7", "Priority shipments"}
	for _, needle := range checks {
		for _, b := range breakdown {
			if strings.Contains(b, needle) {
				count++
				break
			}
		}
	}
	if hasKeyword {
		count++
	}
	return count
}

// Validate computes the maximum allowed classification for the event. The
// first matching branch of the ladder wins; every branch records why.
func Validate(ev *contracts.Event, impactScore int, breakdown []string, cfg config.QualityConfig) Validation {
	facilityConf := ev.Confidence(contracts.ChannelFacility)
	laneConf := ev.Confidence(contracts.ChannelLanes)
	shipmentConf := ev.Confidence(contracts.ChannelShipments)
	provenance := ev.Provenance(contracts.ChannelFacility)

	hasKeyword, keywords := DetectHighImpactKeywords(ev.CombinedText())
	factors := CountHighImpactFactors(breakdown, hasKeyword)

	v := Validation{
		HighImpactFactors:    factors,
		HasHighImpactKeyword: hasKeyword,
		MatchedKeywords:      keywords,
		FacilityConfidence:   facilityConf,
		FacilityProvenance:   provenance,
	}
	reason := func(format string, args ...any) {
		v.Reasoning = append(v.Reasoning, fmt.Sprintf(format, args...))
	}

	if len(ev.Facilities) == 0 {
		v.MaxAllowedClass = 0
		if hasKeyword && ev.TrustTier >= 2 {
			reason("No network links found; high-impact keyword detected (%s) but requires network match for higher classification",
				strings.Join(keywords, ", "))
		} else {
			reason("No network links found")
		}
		return v
	}

	if provenance == contracts.ProvenanceCityStateAmbiguous {
		if facilityConf < cfg.MinConfidenceAmbiguous {
			v.MaxAllowedClass = 0
			reason("Ambiguous facility match (confidence %.2f < %v) without sufficient evidence",
				facilityConf, cfg.MinConfidenceAmbiguous)
			return v
		}

		var compensators []string
		if ev.TrustTier == 3 {
			compensators = append(compensators, "high-trust source")
		}
		if hasKeyword {
			compensators = append(compensators, "high-impact keyword ("+strings.Join(keywords, ", ")+")")
		}
		if len(ev.Lanes) > 0 && laneConf >= 0.70 {
			compensators = append(compensators, "strong lane links")
		}
		if len(ev.Shipments) > 0 && shipmentConf >= 0.60 {
			compensators = append(compensators, "strong shipment links")
		}
		if len(ev.Facilities) > 1 {
			compensators = append(compensators, "multiple facility references")
		}
		if impactScore >= 6 {
			compensators = append(compensators, "very high impact score")
		}

		if len(compensators) >= 2 {
			v.MaxAllowedClass = 1
			reason("Ambiguous facility match (confidence %.2f) compensated by: %s - capped at classification 1",
				facilityConf, strings.Join(compensators, ", "))
		} else {
			v.MaxAllowedClass = 0
			reason("Ambiguous facility match (confidence %.2f) with insufficient compensating factors (%d found, requires 2+)",
				facilityConf, len(compensators))
		}
		return v
	}

	switch {
	case facilityConf >= cfg.MinConfidenceClass2:
		switch {
		case factors >= 2:
			v.MaxAllowedClass = 2
			reason("High facility confidence (%.2f >= %v) with %d high-impact factors",
				facilityConf, cfg.MinConfidenceClass2, factors)
		case factors == 1 && impactScore >= 5:
			v.MaxAllowedClass = 2
			reason("High facility confidence (%.2f) with single high-impact factor but very high impact score (%d)",
				facilityConf, impactScore)
		default:
			v.MaxAllowedClass = 1
			reason("High facility confidence (%.2f) but insufficient high-impact factors (%d found, requires 2+ for classification 2)",
				facilityConf, factors)
		}
	case facilityConf >= cfg.MinConfidenceClass1:
		switch {
		case ev.TrustTier == 3 && hasKeyword:
			v.MaxAllowedClass = 1
			reason("Medium facility confidence (%.2f >= %v) compensated by high-trust source and high-impact keyword",
				facilityConf, cfg.MinConfidenceClass1)
		case ev.TrustTier >= 2:
			v.MaxAllowedClass = 1
			reason("Medium facility confidence (%.2f >= %v) with trust tier %d",
				facilityConf, cfg.MinConfidenceClass1, ev.TrustTier)
		default:
			v.MaxAllowedClass = 0
			reason("Medium facility confidence (%.2f >= %v) but low trust tier (%d) - insufficient for classification 1",
				facilityConf, cfg.MinConfidenceClass1, ev.TrustTier)
		}
	default:
		v.MaxAllowedClass = 0
		reason("Low facility confidence (%.2f < %v) without sufficient compensating factors",
			facilityConf, cfg.MinConfidenceClass1)
	}
	return v
}

// ApplyPolicy composes the score-derived class, the quality cap and the
// source classification floor. Under Policy B the cap is final and the floor
// can only raise within it; under Policy A the floor is authoritative and may
// exceed the cap.
func ApplyPolicy(scoreClass, cap, floor int, cfg config.QualityConfig) (final int, notes []string) {
	capped := scoreClass
	if capped > cap {
		capped = cap
		notes = append(notes, fmt.Sprintf("Quality validation capped classification at %d (score suggested %d)", cap, scoreClass))
	}

	if cfg.AllowQualityOverrideFloor {
		raised := floor
		if raised > cap {
			raised = cap
			notes = append(notes, fmt.Sprintf("Source floor %d limited to quality cap %d (Policy B)", floor, cap))
		}
		if raised > capped {
			capped = raised
			notes = append(notes, fmt.Sprintf("Source floor raised classification to %d", capped))
		}
		return capped, notes
	}

	if floor > capped {
		capped = floor
		if floor > cap {
			notes = append(notes, fmt.Sprintf("Source floor %d overrides quality cap %d (Policy A)", floor, cap))
		} else {
			notes = append(notes, fmt.Sprintf("Source floor raised classification to %d", capped))
		}
	}
	return capped, notes
}
