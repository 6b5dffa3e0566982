package store

import (
	"context"
	"fmt"
)

// Schema changes are additive only: new columns arrive via addColumn with
// NULL defaults; existing columns are never renamed or dropped. A database
// created by an older build is upgraded in place on Open.

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS raw_items (
		raw_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		fetched_at_utc TEXT NOT NULL,
		published_at_utc TEXT,
		canonical_id TEXT NOT NULL DEFAULT '',
		url TEXT,
		title TEXT,
		raw_payload_json TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NEW',
		error TEXT,
		trust_tier INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_items_source_id ON raw_items(source_id);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_items_canonical_id ON raw_items(canonical_id);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_items_content_hash ON raw_items(content_hash);`,
	`CREATE INDEX IF NOT EXISTS idx_raw_items_status ON raw_items(status);`,
	// Dedupe arbiters: (source, canonical) when a canonical id is present,
	// else (source, content hash). Concurrent inserts of the same item
	// collapse to one row.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_raw_items_source_canonical
		ON raw_items(source_id, canonical_id) WHERE canonical_id != '';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_raw_items_source_hash
		ON raw_items(source_id, content_hash) WHERE canonical_id = '';`,

	`CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		source_id TEXT,
		raw_id TEXT,
		tier TEXT,
		event_type TEXT,
		title TEXT,
		event_time_utc TEXT,
		event_json TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_source_id ON events(source_id);`,
	`CREATE INDEX IF NOT EXISTS idx_events_raw_id ON events(raw_id);`,

	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		risk_type TEXT,
		classification INTEGER,
		status TEXT,
		summary TEXT,
		root_event_id TEXT,
		correlation_key TEXT,
		correlation_action TEXT,
		scope_json TEXT,
		impact_score INTEGER,
		diagnostics_json TEXT,
		reasoning_json TEXT,
		actions_json TEXT,
		tier TEXT,
		source_id TEXT,
		trust_tier INTEGER,
		first_seen_utc TEXT,
		last_seen_utc TEXT,
		update_count INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_correlation_key ON alerts(correlation_key);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_last_seen_utc ON alerts(last_seen_utc);`,

	`CREATE TABLE IF NOT EXISTS facilities (
		facility_id TEXT PRIMARY KEY,
		name TEXT,
		city TEXT,
		state TEXT,
		country TEXT,
		criticality_score INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS lanes (
		lane_id TEXT PRIMARY KEY,
		origin_facility_id TEXT,
		dest_facility_id TEXT,
		mode TEXT,
		volume_score INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_lanes_origin ON lanes(origin_facility_id);`,
	`CREATE INDEX IF NOT EXISTS idx_lanes_dest ON lanes(dest_facility_id);`,
	`CREATE TABLE IF NOT EXISTS shipments (
		shipment_id TEXT PRIMARY KEY,
		lane_id TEXT,
		ship_date TEXT,
		eta_date TEXT,
		status TEXT,
		priority_flag INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_shipments_lane ON shipments(lane_id);`,
}

// Columns added after the initial schema. They land as nullable columns on
// tables that may predate them.
var additiveColumns = []struct {
	table, column, coltype string
}{
	{"alerts", "artifact_path", "TEXT"},
	{"alerts", "artifact_hash", "TEXT"},
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range createStatements {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrStore, err)
		}
	}
	for _, c := range additiveColumns {
		if err := d.addColumn(ctx, c.table, c.column, c.coltype); err != nil {
			return err
		}
	}
	return nil
}

// addColumn adds a nullable column when it is missing.
func (d *DB) addColumn(ctx context.Context, table, column, coltype string) error {
	rows, err := d.sql.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return fmt.Errorf("%w: table_info %s: %v", ErrStore, table, err)
	}
	defer func() { _ = rows.Close() }()

	exists := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("%w: scan table_info: %v", ErrStore, err)
		}
		if name == column {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: table_info %s: %v", ErrStore, table, err)
	}
	if exists {
		return nil
	}
	_, err = d.sql.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, column, coltype))
	if err != nil {
		return fmt.Errorf("%w: add column %s.%s: %v", ErrStore, table, column, err)
	}
	return nil
}
