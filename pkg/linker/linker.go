// Package linker resolves a canonical event against the facility, lane and
// shipment inventory. Resolution follows a fixed ladder with per-channel
// confidence and provenance, so downstream scoring never has to guess how a
// link was made.
package linker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
)

// Config bounds the shipment search.
type Config struct {
	DaysAhead    int // shipment window in days from today
	MaxShipments int // cap on linked shipments
}

// DefaultConfig returns the standard 30-day window and 50-shipment cap.
func DefaultConfig() Config {
	return Config{DaysAhead: 30, MaxShipments: 50}
}

// Inventory is the read surface the linker needs. *store.Tx satisfies it, so
// linking shares the per-item transaction.
type Inventory interface {
	FacilitiesByIDs(ctx context.Context, ids []string) ([]contracts.Facility, error)
	FacilitiesByCityState(ctx context.Context, city string, stateForms []string) ([]contracts.Facility, error)
	LanesTouching(ctx context.Context, facilityIDs []string) ([]contracts.Lane, error)
	ShipmentsByLanes(ctx context.Context, laneIDs []string) ([]contracts.Shipment, error)
}

// Result carries the resolved inventory rows so the scorer does not re-query.
type Result struct {
	Facilities []contracts.Facility
	Lanes      []contracts.Lane
	Shipments  []contracts.Shipment
}

var (
	cityStateRe  = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*),\s+([A-Z]{2}|[A-Z][a-z]+)\b`)
	facilityIDRe = regexp.MustCompile(`\b([A-Z]+-\d+)\b`)
)

// Link resolves the event's facilities, lanes and shipments in place and
// returns the matched inventory rows. Today's date comes from the scope
// clock, never from wall time.
func Link(ctx context.Context, ev *contracts.Event, inv Inventory, scope *determinism.Scope, cfg Config) (*Result, error) {
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = 30
	}
	if cfg.MaxShipments <= 0 {
		cfg.MaxShipments = 50
	}
	if ev.LinkConfidence == nil {
		ev.LinkConfidence = map[string]float64{}
	}
	if ev.LinkProvenance == nil {
		ev.LinkProvenance = map[string]string{}
	}

	res := &Result{}
	facilities, err := resolveFacilities(ctx, ev, inv)
	if err != nil {
		return nil, err
	}
	res.Facilities = facilities

	if len(ev.Facilities) == 0 {
		ev.Lanes = []string{}
		ev.Shipments = []string{}
		ev.LinkConfidence[contracts.ChannelLanes] = 0.0
		ev.LinkConfidence[contracts.ChannelShipments] = 0.0
		return res, nil
	}

	lanes, err := inv.LanesTouching(ctx, ev.Facilities)
	if err != nil {
		return nil, fmt.Errorf("link lanes for event %s: %w", ev.EventID, err)
	}
	res.Lanes = lanes
	laneIDs := make([]string, 0, len(lanes))
	for _, l := range lanes {
		laneIDs = append(laneIDs, l.LaneID)
	}
	ev.Lanes = dedupeSorted(ev.Lanes, laneIDs)
	if len(ev.Lanes) > 0 {
		ev.LinkConfidence[contracts.ChannelLanes] = 0.75
		ev.LinkingNotes = append(ev.LinkingNotes, fmt.Sprintf("Linked lanes via facility match: %v", ev.Lanes))
	} else {
		ev.LinkConfidence[contracts.ChannelLanes] = 0.0
	}

	if len(ev.Lanes) == 0 {
		ev.Shipments = []string{}
		ev.LinkConfidence[contracts.ChannelShipments] = 0.0
		return res, nil
	}

	candidates, err := inv.ShipmentsByLanes(ctx, ev.Lanes)
	if err != nil {
		return nil, fmt.Errorf("link shipments for event %s: %w", ev.EventID, err)
	}
	today := scope.Now().UTC().Truncate(24 * time.Hour)
	horizon := today.AddDate(0, 0, cfg.DaysAhead)

	matched := make([]contracts.Shipment, 0, len(candidates))
	for _, s := range candidates {
		if shipmentInWindow(s, today, horizon) {
			matched = append(matched, s)
		}
	}
	ev.ShipmentsTotalLinked = len(matched)
	ev.ShipmentsTruncated = len(matched) > cfg.MaxShipments
	if ev.ShipmentsTruncated {
		matched = matched[:cfg.MaxShipments]
	}
	res.Shipments = matched

	ids := make([]string, 0, len(matched))
	for _, s := range matched {
		ids = append(ids, s.ShipmentID)
	}
	ev.Shipments = ids
	if len(ids) > 0 {
		ev.LinkConfidence[contracts.ChannelShipments] = 0.60
		note := fmt.Sprintf("Linked %d upcoming shipments via lanes", ev.ShipmentsTotalLinked)
		if ev.ShipmentsTruncated {
			note += fmt.Sprintf(" (truncated to %d)", cfg.MaxShipments)
		}
		ev.LinkingNotes = append(ev.LinkingNotes, note)
	} else {
		ev.Shipments = []string{}
		ev.LinkConfidence[contracts.ChannelShipments] = 0.0
	}
	return res, nil
}

// resolveFacilities walks the ladder: provided ids, then city/state, then
// exact facility-id tokens in the text.
func resolveFacilities(ctx context.Context, ev *contracts.Event, inv Inventory) ([]contracts.Facility, error) {
	if len(ev.Facilities) > 0 {
		ev.Facilities = dedupeSorted(nil, ev.Facilities)
		ev.LinkConfidence[contracts.ChannelFacility] = 1.0
		ev.LinkProvenance[contracts.ChannelFacility] = contracts.ProvenanceProvided
		ev.LinkingNotes = append(ev.LinkingNotes, fmt.Sprintf("Using provided facilities: %v", ev.Facilities))
		rows, err := inv.FacilitiesByIDs(ctx, ev.Facilities)
		if err != nil {
			return nil, fmt.Errorf("load provided facilities for event %s: %w", ev.EventID, err)
		}
		return rows, nil
	}

	if city, state, ok := extractCityState(ev); ok {
		rows, err := inv.FacilitiesByCityState(ctx, city, stateQueryForms(state))
		if err != nil {
			return nil, fmt.Errorf("match facilities by city/state for event %s: %w", ev.EventID, err)
		}
		if len(rows) > 0 {
			ids := make([]string, 0, len(rows))
			for _, f := range rows {
				ids = append(ids, f.FacilityID)
			}
			ev.Facilities = dedupeSorted(nil, ids)
			prov := contracts.ProvenanceCityState
			conf := 0.75
			if len(ev.Facilities) > 1 {
				prov = contracts.ProvenanceCityStateAmbiguous
				conf = 0.55
			}
			ev.LinkConfidence[contracts.ChannelFacility] = conf
			ev.LinkProvenance[contracts.ChannelFacility] = prov
			ev.LinkingNotes = append(ev.LinkingNotes, fmt.Sprintf("Facility match by city/state: %s, %s -> %v", city, state, ev.Facilities))
			return rows, nil
		}
		ev.LinkingNotes = append(ev.LinkingNotes, fmt.Sprintf("No facility match for city/state: %s, %s", city, state))
	}

	if tokens := facilityIDRe.FindAllString(ev.CombinedText(), -1); len(tokens) > 0 {
		rows, err := inv.FacilitiesByIDs(ctx, dedupeSorted(nil, tokens))
		if err != nil {
			return nil, fmt.Errorf("match facility ids in text for event %s: %w", ev.EventID, err)
		}
		if len(rows) > 0 {
			ids := make([]string, 0, len(rows))
			for _, f := range rows {
				ids = append(ids, f.FacilityID)
			}
			ev.Facilities = dedupeSorted(nil, ids)
			ev.LinkConfidence[contracts.ChannelFacility] = 1.0
			ev.LinkProvenance[contracts.ChannelFacility] = contracts.ProvenanceFacilityIDExact
			ev.LinkingNotes = append(ev.LinkingNotes, fmt.Sprintf("Matched facility ids in text: %v", ev.Facilities))
			return rows, nil
		}
	}

	ev.Facilities = []string{}
	ev.LinkConfidence[contracts.ChannelFacility] = 0.0
	ev.LinkProvenance[contracts.ChannelFacility] = ""
	ev.LinkingNotes = append(ev.LinkingNotes, "No facility match")
	return nil, nil
}

// extractCityState pulls (city, state) from explicit payload fields first,
// then from a City, ST scan over the location hint and text.
func extractCityState(ev *contracts.Event) (city, state string, ok bool) {
	if ev.Payload != nil {
		c, _ := ev.Payload["city"].(string)
		s, _ := ev.Payload["state"].(string)
		if c != "" && s != "" {
			return strings.TrimSpace(c), NormalizeState(s), true
		}
	}
	for _, text := range []string{ev.LocationHint, ev.CombinedText()} {
		if m := cityStateRe.FindStringSubmatch(text); m != nil {
			return m[1], NormalizeState(m[2]), true
		}
	}
	return "", "", false
}

// shipmentInWindow reports whether the shipment ships or arrives inside
// [today, horizon], or has no parsable date but an active status.
func shipmentInWindow(s contracts.Shipment, today, horizon time.Time) bool {
	parsed := false
	for _, raw := range []string{s.ShipDate, s.ETADate} {
		if raw == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			continue
		}
		parsed = true
		if !d.Before(today) && !d.After(horizon) {
			return true
		}
	}
	if parsed {
		return false
	}
	switch strings.ToUpper(s.Status) {
	case contracts.ShipmentPending, contracts.ShipmentInTransit, contracts.ShipmentScheduled:
		return true
	}
	return false
}

// dedupeSorted merges base and extra, dropping empties and duplicates, and
// returns the sorted result.
func dedupeSorted(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, id := range append(append([]string{}, base...), extra...) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
