package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hardstop-labs/sentinel/pkg/canonicalize"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

// SaveEvent persists a canonical event inside the item transaction. Events
// are immutable: saving an id that already exists returns the stored row.
func (t *Tx) SaveEvent(ctx context.Context, ev *contracts.Event) (*contracts.Event, error) {
	if ev.EventID == "" {
		return nil, fmt.Errorf("%w: event without event_id", ErrStore)
	}
	existing, err := getEvent(ctx, t.tx, ev.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	encoded, err := canonicalize.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: encode event: %v", ErrStore, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO events (event_id, source_id, raw_id, tier, event_type, title, event_time_utc, event_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, nullable(ev.SourceID), nullable(ev.RawID), string(ev.Tier),
		string(ev.EventType), nullable(ev.Title), nullable(ev.EventTimeUTC), string(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: insert event: %v", ErrStore, err)
	}
	return ev, nil
}

// GetEvent returns one event or nil.
func (d *DB) GetEvent(ctx context.Context, eventID string) (*contracts.Event, error) {
	return getEvent(ctx, d.sql, eventID)
}

// GetEvent inside a transaction.
func (t *Tx) GetEvent(ctx context.Context, eventID string) (*contracts.Event, error) {
	return getEvent(ctx, t.tx, eventID)
}

func getEvent(ctx context.Context, q querier, eventID string) (*contracts.Event, error) {
	var encoded string
	err := q.QueryRowContext(ctx,
		`SELECT event_json FROM events WHERE event_id = ?`, eventID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get event: %v", ErrStore, err)
	}
	var ev contracts.Event
	if err := json.Unmarshal([]byte(encoded), &ev); err != nil {
		return nil, fmt.Errorf("%w: decode event %s: %v", ErrStore, eventID, err)
	}
	return &ev, nil
}
