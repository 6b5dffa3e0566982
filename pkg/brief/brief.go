// Package brief renders the daily digest of recent alerts, grouped by
// correlation action with the top impactful alerts pulled out. Output is
// markdown for humans or JSON for tooling.
package brief

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/fetch"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

// Options shapes one brief.
type Options struct {
	Since         string // window like "24h" or "7d"; empty means 24h
	IncludeClass0 bool
	Limit         int // per-section cap; 0 means 20
}

// Correlation carries the correlation facts of one alert in the brief.
type Correlation struct {
	Key     string `json:"key"`
	Action  string `json:"action"`
	AlertID string `json:"alert_id"`
}

// AlertView is the brief-facing projection of an alert row.
type AlertView struct {
	AlertID        string          `json:"alert_id"`
	Classification int             `json:"classification"`
	ImpactScore    int             `json:"impact_score"`
	Summary        string          `json:"summary"`
	Correlation    Correlation     `json:"correlation"`
	Scope          contracts.Scope `json:"scope"`
	FirstSeenUTC   time.Time       `json:"first_seen_utc"`
	LastSeenUTC    time.Time       `json:"last_seen_utc"`
	UpdateCount    int             `json:"update_count"`
}

// Counts summarizes the window.
type Counts struct {
	New         int `json:"new"`
	Updated     int `json:"updated"`
	Impactful   int `json:"impactful"`
	Relevant    int `json:"relevant"`
	Interesting int `json:"interesting"`
}

// Suppressed records what the per-section limit hid.
type Suppressed struct {
	TotalQueried int `json:"total_queried"`
	LimitApplied int `json:"limit_applied"`
}

// Brief is the full digest document.
type Brief struct {
	GeneratedAtUTC time.Time   `json:"generated_at_utc"`
	Since          string      `json:"since"`
	Counts         Counts      `json:"counts"`
	Top            []AlertView `json:"top"`
	Updated        []AlertView `json:"updated"`
	Created        []AlertView `json:"created"`
	Suppressed     Suppressed  `json:"suppressed"`
}

func view(a *contracts.Alert) AlertView {
	action := string(a.CorrelationAction)
	if action == "" {
		// Older rows carry only the lifecycle status.
		if a.Status == contracts.AlertUpdated {
			action = string(contracts.ActionUpdated)
		} else {
			action = string(contracts.ActionCreated)
		}
	}
	return AlertView{
		AlertID:        a.AlertID,
		Classification: a.Classification,
		ImpactScore:    a.ImpactScore,
		Summary:        a.Summary,
		Correlation:    Correlation{Key: a.CorrelationKey, Action: action, AlertID: a.AlertID},
		Scope:          a.Scope,
		FirstSeenUTC:   a.FirstSeenUTC,
		LastSeenUTC:    a.LastSeenUTC,
		UpdateCount:    a.UpdateCount,
	}
}

// Generate builds the digest over the recent-alert window. The clock comes
// from the scope so pinned runs produce stable headers.
func Generate(ctx context.Context, db *store.DB, opts Options, scope *determinism.Scope) (*Brief, error) {
	since := opts.Since
	if since == "" {
		since = "24h"
	}
	sinceHours, err := fetch.ParseSince(since)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	now := scope.Now()
	// Over-fetch so the per-action split still fills its sections.
	alerts, err := db.RecentAlerts(ctx, sinceHours, opts.IncludeClass0, limit*2, now)
	if err != nil {
		return nil, err
	}

	b := &Brief{
		GeneratedAtUTC: now,
		Since:          fmt.Sprintf("%dh", sinceHours),
		Suppressed:     Suppressed{TotalQueried: len(alerts), LimitApplied: limit},
	}

	var created, updated, impactful []AlertView
	for _, a := range alerts {
		v := view(a)
		switch v.Classification {
		case 2:
			b.Counts.Impactful++
		case 1:
			b.Counts.Relevant++
		default:
			b.Counts.Interesting++
		}
		if v.Correlation.Action == string(contracts.ActionUpdated) {
			updated = append(updated, v)
		} else {
			created = append(created, v)
		}
		if v.Classification == 2 {
			impactful = append(impactful, v)
		}
	}
	b.Counts.New = len(created)
	b.Counts.Updated = len(updated)

	// Top impact: classification 2 by impact score, at most two. The query
	// is already last-seen ordered, so ties keep the freshest first.
	for i := 1; i < len(impactful); i++ {
		for j := i; j > 0 && impactful[j].ImpactScore > impactful[j-1].ImpactScore; j-- {
			impactful[j], impactful[j-1] = impactful[j-1], impactful[j]
		}
	}
	if len(impactful) > 2 {
		impactful = impactful[:2]
	}
	b.Top = impactful
	b.Updated = capped(updated, limit)
	b.Created = capped(created, limit)
	return b, nil
}

func capped(vs []AlertView, limit int) []AlertView {
	if len(vs) > limit {
		return vs[:limit]
	}
	return vs
}

// RenderJSON emits the machine-readable digest.
func RenderJSON(b *Brief) (string, error) {
	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// RenderMarkdown emits the human digest.
func RenderMarkdown(b *Brief) string {
	var sb strings.Builder
	w := func(format string, args ...any) {
		fmt.Fprintf(&sb, format+"\n", args...)
	}

	w("# Sentinel Daily Brief — %s (since %s)", b.GeneratedAtUTC.Format("2006-01-02"), b.Since)
	w("")
	w("## Summary")
	w("")
	w("- **New:** %d (correlation.action = CREATED)", b.Counts.New)
	w("- **Updated:** %d (correlation.action = UPDATED)", b.Counts.Updated)
	w("- **Impactful (2):** %d | **Relevant (1):** %d | **Interesting (0):** %d",
		b.Counts.Impactful, b.Counts.Relevant, b.Counts.Interesting)
	w("")

	if len(b.Top) > 0 {
		w("## Top Impact")
		w("")
		for _, a := range b.Top {
			w("- **[%d]** %s", a.Classification, a.Summary)
			w("  - **Key:** %s", a.Correlation.Key)
			if line := scopeLine(a.Scope); line != "" {
				w("  - %s", line)
			}
			w("  - **Last seen:** %s | **Updates:** %d",
				a.LastSeenUTC.Format(time.RFC3339), a.UpdateCount)
			w("")
		}
	}

	if len(b.Updated) > 0 {
		w("## Updated Alerts")
		w("")
		for _, a := range b.Updated {
			w("- **[%d]** %s (updates: %d)", a.Classification, a.Summary, a.UpdateCount)
		}
		w("")
	}

	if len(b.Created) > 0 {
		w("## New Alerts")
		w("")
		for _, a := range b.Created {
			w("- **[%d]** %s", a.Classification, a.Summary)
		}
		w("")
	}

	if b.Counts.New+b.Counts.Updated == 0 {
		w("## Quiet Day")
		w("")
		w("No alerts created or updated in the specified time window.")
		w("")
	}
	return sb.String()
}

func scopeLine(s contracts.Scope) string {
	var parts []string
	if f := previewIDs(s.Facilities); f != "" {
		parts = append(parts, "Facilities: "+f)
	}
	if l := previewIDs(s.Lanes); l != "" {
		parts = append(parts, "Lanes: "+l)
	}
	shown := len(s.Shipments)
	total := s.ShipmentsTotalLinked
	if total < shown {
		total = shown
	}
	if shown > 0 {
		str := fmt.Sprintf("%d", shown)
		if total > shown {
			str = fmt.Sprintf("%d/%d", shown, total)
		}
		parts = append(parts, "Shipments: "+str)
	}
	return strings.Join(parts, " | ")
}

func previewIDs(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	shown := ids
	if len(shown) > 3 {
		shown = shown[:3]
	}
	out := strings.Join(shown, ", ")
	if extra := len(ids) - len(shown); extra > 0 {
		out += fmt.Sprintf(" (+%d more)", extra)
	}
	return out
}
