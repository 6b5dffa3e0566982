package contracts

// EventType is the coarse classification of a canonical signal. Derivation
// order is fixed: the first matching keyword group wins.
type EventType string

const (
	EventWeather EventType = "WEATHER"
	EventSpill   EventType = "SPILL"
	EventStrike  EventType = "STRIKE"
	EventClosure EventType = "CLOSURE"
	EventReg     EventType = "REG"
	EventRecall  EventType = "RECALL"
	EventOther   EventType = "OTHER"
)

// Link-confidence channels.
const (
	ChannelFacility  = "facility"
	ChannelLanes     = "lanes"
	ChannelShipments = "shipments"
)

// Facility link provenance tags.
const (
	ProvenanceProvided           = "PROVIDED"
	ProvenanceCityState          = "CITY_STATE"
	ProvenanceCityStateAmbiguous = "CITY_STATE_AMBIGUOUS"
	ProvenanceFacilityIDExact    = "FACILITY_ID_EXACT"
)

// Event is one canonicalized signal with trust metadata injected from the
// source configuration and, after linking, its resolved network scope.
//
// Facilities, lanes and shipments are deduplicated and kept in deterministic
// order. A confidence channel that was never attempted stays at 0.0.
type Event struct {
	EventID  string `json:"event_id"`
	SourceID string `json:"source_id"`
	RawID    string `json:"raw_id"`
	Tier     Tier   `json:"tier"`

	TrustTier           int `json:"trust_tier"`
	ClassificationFloor int `json:"classification_floor"`
	WeightingBias       int `json:"weighting_bias"`

	EventType    EventType `json:"event_type"`
	Title        string    `json:"title"`
	RawText      string    `json:"raw_text"`
	URL          string    `json:"url,omitempty"`
	EventTimeUTC string    `json:"event_time_utc,omitempty"`
	LocationHint string    `json:"location_hint,omitempty"`

	Facilities []string `json:"facilities"`
	Lanes      []string `json:"lanes"`
	Shipments  []string `json:"shipments"`

	LinkConfidence map[string]float64 `json:"link_confidence,omitempty"`
	LinkProvenance map[string]string  `json:"link_provenance,omitempty"`
	LinkingNotes   []string           `json:"linking_notes,omitempty"`

	ShipmentsTotalLinked int  `json:"shipments_total_linked,omitempty"`
	ShipmentsTruncated   bool `json:"shipments_truncated,omitempty"`

	// Payload carries feed-specific fields that survived canonicalization.
	Payload map[string]any `json:"payload,omitempty"`
}

// Confidence returns the channel confidence, defaulting to 0.0 when the
// channel was never attempted. Never defaults high.
func (e *Event) Confidence(channel string) float64 {
	if e.LinkConfidence == nil {
		return 0.0
	}
	return e.LinkConfidence[channel]
}

// Provenance returns the provenance tag for a channel, or "".
func (e *Event) Provenance(channel string) string {
	if e.LinkProvenance == nil {
		return ""
	}
	return e.LinkProvenance[channel]
}

// CombinedText returns title and body joined for keyword scanning.
func (e *Event) CombinedText() string {
	switch {
	case e.Title != "" && e.RawText != "":
		return e.Title + " " + e.RawText
	case e.Title != "":
		return e.Title
	default:
		return e.RawText
	}
}
