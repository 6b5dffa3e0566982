// Package contracts holds the shared data model of the pipeline: raw items,
// canonical events, inventory entities, and alerts. Types here are plain
// records; behavior lives in the packages that operate on them.
package contracts

import "time"

// Tier is the coarse source category.
type Tier string

const (
	TierGlobal   Tier = "global"
	TierRegional Tier = "regional"
	TierLocal    Tier = "local"
)

// Rank orders tiers: global > regional > local. Unknown tiers rank lowest.
func (t Tier) Rank() int {
	switch t {
	case TierGlobal:
		return 3
	case TierRegional:
		return 2
	case TierLocal:
		return 1
	default:
		return 0
	}
}

// RawItemStatus is the staged-persistence lifecycle state.
type RawItemStatus string

const (
	RawStatusNew        RawItemStatus = "NEW"
	RawStatusNormalized RawItemStatus = "NORMALIZED"
	RawStatusFailed     RawItemStatus = "FAILED"
	RawStatusSuppressed RawItemStatus = "SUPPRESSED"
)

// Terminal reports whether a status ends the item's ingest lifecycle.
func (s RawItemStatus) Terminal() bool {
	return s == RawStatusNormalized || s == RawStatusFailed || s == RawStatusSuppressed
}

// RawItemCandidate is what a feed adapter returns per document, before the
// store assigns identity.
type RawItemCandidate struct {
	CanonicalID    string         `json:"canonical_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	URL            string         `json:"url,omitempty"`
	PublishedAtUTC string         `json:"published_at_utc,omitempty"`
	Payload        map[string]any `json:"payload"`
}

// RawItem is one fetched document with staged-persistence state.
type RawItem struct {
	RawID          string
	SourceID       string
	Tier           Tier
	FetchedAtUTC   time.Time
	PublishedAtUTC string // RFC3339, empty when the feed gave none
	CanonicalID    string
	URL            string
	Title          string
	Payload        map[string]any
	ContentHash    string
	Status         RawItemStatus
	Error          string
	TrustTier      int
}

// Candidate reconstructs the adapter-shaped candidate from a stored row.
func (r *RawItem) Candidate() RawItemCandidate {
	return RawItemCandidate{
		CanonicalID:    r.CanonicalID,
		Title:          r.Title,
		URL:            r.URL,
		PublishedAtUTC: r.PublishedAtUTC,
		Payload:        r.Payload,
	}
}
