package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/canonicalize"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

// FindRecentAlertByKey returns the most recent alert with the given
// correlation key whose last_seen is within the window, or nil. now must be
// the injected clock.
func (t *Tx) FindRecentAlertByKey(ctx context.Context, key string, within time.Duration, now time.Time) (*contracts.Alert, error) {
	cutoff := formatTime(now.Add(-within))
	row := t.tx.QueryRowContext(ctx, alertSelect+`
		WHERE correlation_key = ? AND last_seen_utc >= ?
		ORDER BY last_seen_utc DESC LIMIT 1`, key, cutoff)
	return scanAlert(row)
}

// InsertAlert writes a freshly created alert row.
func (t *Tx) InsertAlert(ctx context.Context, a *contracts.Alert) error {
	scopeJSON, diagJSON, reasoningJSON, actionsJSON, err := encodeAlertBlobs(a)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO alerts (
			alert_id, risk_type, classification, status, summary, root_event_id,
			correlation_key, correlation_action, scope_json, impact_score,
			diagnostics_json, reasoning_json, actions_json, tier, source_id,
			trust_tier, first_seen_utc, last_seen_utc, update_count,
			artifact_path, artifact_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.RiskType, a.Classification, a.Status, a.Summary, a.RootEventID,
		a.CorrelationKey, string(a.CorrelationAction), scopeJSON, a.ImpactScore,
		diagJSON, reasoningJSON, actionsJSON, string(a.Tier), nullable(a.SourceID),
		a.TrustTier, formatTime(a.FirstSeenUTC), formatTime(a.LastSeenUTC), a.UpdateCount,
		nullable(a.ArtifactPath), nullable(a.ArtifactHash),
	)
	if err != nil {
		return fmt.Errorf("%w: insert alert: %v", ErrStore, err)
	}
	return nil
}

// UpdateAlert rewrites the mutable fields of a correlated alert. The alert
// id and first_seen are preserved by construction.
func (t *Tx) UpdateAlert(ctx context.Context, a *contracts.Alert) error {
	scopeJSON, diagJSON, reasoningJSON, actionsJSON, err := encodeAlertBlobs(a)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE alerts SET
			risk_type = ?, classification = ?, status = ?, summary = ?,
			root_event_id = ?, correlation_action = ?, scope_json = ?,
			impact_score = ?, diagnostics_json = ?, reasoning_json = ?,
			actions_json = ?, tier = ?, source_id = ?, trust_tier = ?,
			last_seen_utc = ?, update_count = ?, artifact_path = ?, artifact_hash = ?
		WHERE alert_id = ?`,
		a.RiskType, a.Classification, a.Status, a.Summary,
		a.RootEventID, string(a.CorrelationAction), scopeJSON,
		a.ImpactScore, diagJSON, reasoningJSON,
		actionsJSON, string(a.Tier), nullable(a.SourceID), a.TrustTier,
		formatTime(a.LastSeenUTC), a.UpdateCount, nullable(a.ArtifactPath), nullable(a.ArtifactHash),
		a.AlertID,
	)
	if err != nil {
		return fmt.Errorf("%w: update alert: %v", ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: update alert %s: no such row", ErrStore, a.AlertID)
	}
	return nil
}

// SetAlertArtifact records the evidence artifact reference after emission.
func (t *Tx) SetAlertArtifact(ctx context.Context, alertID, path, hash string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE alerts SET artifact_path = ?, artifact_hash = ? WHERE alert_id = ?`,
		path, hash, alertID)
	if err != nil {
		return fmt.Errorf("%w: set artifact: %v", ErrStore, err)
	}
	return nil
}

// GetAlert returns one alert or nil.
func (d *DB) GetAlert(ctx context.Context, alertID string) (*contracts.Alert, error) {
	return scanAlert(d.sql.QueryRowContext(ctx, alertSelect+` WHERE alert_id = ?`, alertID))
}

// RecentAlerts returns alerts last seen within the window, newest first,
// for the daily brief. Classification 0 is excluded unless includeClass0.
func (d *DB) RecentAlerts(ctx context.Context, sinceHours int, includeClass0 bool, limit int, now time.Time) ([]*contracts.Alert, error) {
	cutoff := formatTime(now.Add(-time.Duration(sinceHours) * time.Hour))
	query := alertSelect + ` WHERE last_seen_utc >= ?`
	args := []any{cutoff}
	if !includeClass0 {
		query += ` AND classification > 0`
	}
	query += ` ORDER BY last_seen_utc DESC, alert_id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: recent alerts: %v", ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*contracts.Alert
	for rows.Next() {
		a, err := scanAlertFrom(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: recent alerts: %v", ErrStore, err)
	}
	return alerts, nil
}

const alertSelect = `
	SELECT alert_id, risk_type, classification, status, summary, root_event_id,
	       correlation_key, correlation_action, scope_json, impact_score,
	       diagnostics_json, reasoning_json, actions_json, tier, source_id,
	       trust_tier, first_seen_utc, last_seen_utc, update_count,
	       artifact_path, artifact_hash
	FROM alerts`

func encodeAlertBlobs(a *contracts.Alert) (scope, diag, reasoning, actions string, err error) {
	// Stored JSON goes through the canonical encoder so pinned replays
	// produce byte-identical rows.
	sb, err := canonicalize.Marshal(a.Scope)
	if err != nil {
		return "", "", "", "", fmt.Errorf("%w: encode scope: %v", ErrStore, err)
	}
	db := []byte("null")
	if a.Diagnostics != nil {
		if db, err = canonicalize.Marshal(a.Diagnostics); err != nil {
			return "", "", "", "", fmt.Errorf("%w: encode diagnostics: %v", ErrStore, err)
		}
	}
	rb, err := canonicalize.Marshal(a.Reasoning)
	if err != nil {
		return "", "", "", "", fmt.Errorf("%w: encode reasoning: %v", ErrStore, err)
	}
	ab, err := canonicalize.Marshal(a.Actions)
	if err != nil {
		return "", "", "", "", fmt.Errorf("%w: encode actions: %v", ErrStore, err)
	}
	return string(sb), string(db), string(rb), string(ab), nil
}

func scanAlert(row *sql.Row) (*contracts.Alert, error) {
	a, err := scanAlertFrom(row)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanAlertFrom(s rowScanner) (*contracts.Alert, error) {
	var (
		a                                    contracts.Alert
		action, tier                         string
		scopeJSON, diagJSON                  sql.NullString
		reasoningJSON, actionsJSON           sql.NullString
		sourceID, artifactPath, artifactHash sql.NullString
		firstSeen, lastSeen                  string
	)
	err := s.Scan(&a.AlertID, &a.RiskType, &a.Classification, &a.Status, &a.Summary,
		&a.RootEventID, &a.CorrelationKey, &action, &scopeJSON, &a.ImpactScore,
		&diagJSON, &reasoningJSON, &actionsJSON, &tier, &sourceID,
		&a.TrustTier, &firstSeen, &lastSeen, &a.UpdateCount,
		&artifactPath, &artifactHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan alert: %v", ErrStore, err)
	}
	a.CorrelationAction = contracts.CorrelationAction(action)
	a.Tier = contracts.Tier(tier)
	a.SourceID = sourceID.String
	a.ArtifactPath = artifactPath.String
	a.ArtifactHash = artifactHash.String
	if scopeJSON.Valid && scopeJSON.String != "" {
		if err := json.Unmarshal([]byte(scopeJSON.String), &a.Scope); err != nil {
			return nil, fmt.Errorf("%w: decode scope for %s: %v", ErrStore, a.AlertID, err)
		}
	}
	if diagJSON.Valid && diagJSON.String != "" && diagJSON.String != "null" {
		a.Diagnostics = &contracts.Diagnostics{}
		if err := json.Unmarshal([]byte(diagJSON.String), a.Diagnostics); err != nil {
			return nil, fmt.Errorf("%w: decode diagnostics for %s: %v", ErrStore, a.AlertID, err)
		}
	}
	if reasoningJSON.Valid && reasoningJSON.String != "" {
		if err := json.Unmarshal([]byte(reasoningJSON.String), &a.Reasoning); err != nil {
			return nil, fmt.Errorf("%w: decode reasoning for %s: %v", ErrStore, a.AlertID, err)
		}
	}
	if actionsJSON.Valid && actionsJSON.String != "" {
		if err := json.Unmarshal([]byte(actionsJSON.String), &a.Actions); err != nil {
			return nil, fmt.Errorf("%w: decode actions for %s: %v", ErrStore, a.AlertID, err)
		}
	}
	if a.FirstSeenUTC, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("%w: bad first_seen_utc %q: %v", ErrStore, firstSeen, err)
	}
	if a.LastSeenUTC, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("%w: bad last_seen_utc %q: %v", ErrStore, lastSeen, err)
	}
	return &a, nil
}
