package contracts

import "time"

// Alert classification levels.
const (
	ClassInteresting = 0
	ClassRelevant    = 1
	ClassImpactful   = 2
)

// Alert statuses.
const (
	AlertOpen    = "OPEN"
	AlertUpdated = "UPDATED"
	AlertClosed  = "CLOSED"
)

// CorrelationAction records what the most recent ingest did to an alert.
type CorrelationAction string

const (
	ActionCreated CorrelationAction = "CREATED"
	ActionUpdated CorrelationAction = "UPDATED"
)

// Scope is the network footprint of an alert. Across correlated updates it
// only grows: sets are union-merged preserving first-seen order.
type Scope struct {
	Facilities           []string `json:"facilities"`
	Lanes                []string `json:"lanes"`
	Shipments            []string `json:"shipments"`
	ShipmentsTotalLinked int      `json:"shipments_total_linked"`
	ShipmentsTruncated   bool     `json:"shipments_truncated"`
}

// QualityValidation is the validator's verdict, stored in diagnostics.
type QualityValidation struct {
	MaxAllowedClassification int     `json:"max_allowed_classification"`
	HighImpactFactorsCount   int     `json:"high_impact_factors_count"`
	FacilityConfidence       float64 `json:"facility_confidence"`
	FacilityProvenance       string  `json:"facility_provenance"`
	AppliedPolicy            string  `json:"applied_policy"` // "A" or "B"
}

// Diagnostics is the per-alert audit record of how the classification was
// reached.
type Diagnostics struct {
	LinkConfidence        map[string]float64 `json:"link_confidence"`
	LinkProvenance        map[string]string  `json:"link_provenance"`
	ShipmentsTotalLinked  int                `json:"shipments_total_linked"`
	ShipmentsTruncated    bool               `json:"shipments_truncated"`
	ImpactScore           int                `json:"impact_score"`
	ImpactScoreBreakdown  []string           `json:"impact_score_breakdown"`
	ImpactScoreRationale  string             `json:"impact_score_rationale"`
	QualityValidation     QualityValidation  `json:"quality_validation"`
}

// RecommendedAction is one operator follow-up attached to an alert.
type RecommendedAction struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	OwnerRole      string `json:"owner_role"`
	DueWithinHours int    `json:"due_within_hours"`
}

// Alert is one correlated, persistent incident record. AlertID is stable
// across updates; FirstSeenUTC never changes after creation; LastSeenUTC is
// non-decreasing; UpdateCount increments once per correlated ingest.
type Alert struct {
	AlertID           string
	RiskType          string
	Classification    int
	Status            string
	Summary           string
	RootEventID       string
	CorrelationKey    string
	CorrelationAction CorrelationAction
	Scope             Scope
	ImpactScore       int
	Diagnostics       *Diagnostics
	Reasoning         []string
	Actions           []RecommendedAction
	Tier              Tier
	SourceID          string
	TrustTier         int
	FirstSeenUTC      time.Time
	LastSeenUTC       time.Time
	UpdateCount       int
	ArtifactPath      string
	ArtifactHash      string
}
