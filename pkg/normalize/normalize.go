// Package normalize canonicalizes raw feed items into typed events. All
// derivations are deterministic: keyword groups are scanned in a fixed
// order, location hints fall back through fixed field lists, and trust
// metadata is injected verbatim from the source configuration.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
)

// ItemParseError marks a single raw item that could not be canonicalized.
// The orchestrator converts it to a FAILED status for that item only.
type ItemParseError struct {
	RawID  string
	Reason string
	Err    error
}

func (e *ItemParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse raw item %s: %s: %v", e.RawID, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse raw item %s: %s", e.RawID, e.Reason)
}

func (e *ItemParseError) Unwrap() error { return e.Err }

// IsItemParseError reports whether err is a per-item canonicalization
// failure.
func IsItemParseError(err error) bool {
	var pe *ItemParseError
	return errors.As(err, &pe)
}

// Keyword groups, scanned in order; first match wins.
var eventTypeGroups = []struct {
	Type     contracts.EventType
	Keywords []string
}{
	{contracts.EventWeather, []string{
		"hurricane", "tornado", "flood", "storm", "blizzard", "snow", "ice",
		"warning", "watch", "alert", "severe weather", "thunderstorm",
		"wind", "hail", "freeze", "frost", "heat", "drought",
	}},
	{contracts.EventSpill, []string{
		"spill", "leak", "contamination", "chemical release", "hazardous material",
		"oil spill", "toxic", "pollution",
	}},
	{contracts.EventStrike, []string{
		"strike", "labor dispute", "work stoppage", "union", "walkout",
		"picketing", "lockout",
	}},
	{contracts.EventClosure, []string{
		"closure", "closed", "shutdown", "shut down", "suspended", "halted",
		"blocked", "barricade", "evacuation", "emergency closure",
	}},
	{contracts.EventReg, []string{
		"regulation", "regulatory", "compliance", "violation", "fine", "penalty",
		"inspection", "audit", "sanction", "ban", "prohibition",
	}},
	{contracts.EventRecall, []string{
		"recall", "recalled", "withdrawal", "removed from market", "voluntary recall",
	}},
}

// ExtractEventType classifies title+body against the ordered keyword
// groups.
func ExtractEventType(title, body string) contracts.EventType {
	combined := strings.ToLower(strings.TrimSpace(title + " " + body))
	for _, group := range eventTypeGroups {
		for _, kw := range group.Keywords {
			if strings.Contains(combined, kw) {
				return group.Type
			}
		}
	}
	return contracts.EventOther
}

// Payload fields consulted for a location hint, in order.
var locationFields = []string{"areaDesc", "location", "area", "region", "city", "state"}

// Payload fields scanned for a "City, ST" pattern, in order.
var textFields = []string{"description", "summary", "content", "title", "body"}

var cityStateRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*),\s+([A-Z]{2}|[A-Z][a-z]+)\b`)

// ExtractLocationHint builds a location hint from geo config, then payload
// fields, then a City, ST scan over the text fields.
func ExtractLocationHint(payload map[string]any, geo *config.Geo) string {
	if geo != nil {
		var parts []string
		for _, p := range []string{geo.City, geo.State, geo.Country} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}

	for _, field := range locationFields {
		if v, ok := payload[field]; ok {
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}

	for _, field := range textFields {
		if v, ok := payload[field]; ok {
			if s := stringValue(v); s != "" {
				if m := cityStateRe.FindStringSubmatch(s); m != nil {
					return m[1] + ", " + m[2]
				}
			}
		}
	}
	return ""
}

// Normalize turns a raw item into a canonical event, injecting the
// source's trust metadata. The event id prefers, in order: an event_id in
// the payload, the canonical id, the raw id, then a generated id from the
// scope. Feed-supplied facility ids in the payload carry onto the event so
// the linker can resolve them as provided.
func Normalize(item *contracts.RawItem, src config.Source, scope *determinism.Scope) (*contracts.Event, error) {
	if item.Payload == nil {
		return nil, &ItemParseError{RawID: item.RawID, Reason: "payload is not a JSON object"}
	}

	title := item.Title
	if title == "" {
		title = stringValue(item.Payload["title"])
	}

	var textParts []string
	if title != "" {
		textParts = append(textParts, title)
	}
	for _, field := range []string{"summary", "description", "content", "body"} {
		if v, ok := item.Payload[field]; ok {
			if s := stringValue(v); s != "" {
				textParts = append(textParts, s)
			}
		}
	}
	rawText := strings.Join(textParts, " ")

	eventID := stringValue(item.Payload["event_id"])
	if eventID == "" {
		eventID = item.CanonicalID
	}
	if eventID == "" {
		eventID = item.RawID
	}
	if eventID == "" {
		eventID = scope.NewEventID()
	}

	ev := &contracts.Event{
		EventID:             eventID,
		SourceID:            item.SourceID,
		RawID:               item.RawID,
		Tier:                item.Tier,
		TrustTier:           src.EffectiveTrustTier(),
		ClassificationFloor: src.EffectiveClassificationFloor(),
		WeightingBias:       src.EffectiveWeightingBias(),
		EventType:           ExtractEventType(title, rawText),
		Title:               title,
		RawText:             rawText,
		URL:                 item.URL,
		EventTimeUTC:        item.PublishedAtUTC,
		LocationHint:        ExtractLocationHint(item.Payload, src.Geo),
		Facilities:          stringList(item.Payload["facilities"]),
		Lanes:               []string{},
		Shipments:           []string{},
		Payload:             item.Payload,
	}
	return ev, nil
}

// stringList coerces a payload value into a deduplicated string slice.
// Feeds deliver id lists as JSON arrays, which decode to []any; anything
// else yields an empty (never nil) slice.
func stringList(v any) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			add(s)
		}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				add(s)
			}
		}
	}
	return out
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
