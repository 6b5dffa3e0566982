package store

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
)

// Inventory reads are available on the transaction so linking and scoring
// observe the same snapshot as the alert upsert. The tables themselves are
// read-only during ingest.

// FacilitiesByIDs returns facilities for the given ids, in id order.
func (t *Tx) FacilitiesByIDs(ctx context.Context, ids []string) ([]contracts.Facility, error) {
	return facilitiesByIDs(ctx, t.tx, ids)
}

// FacilitiesByCityState returns facilities whose city matches
// case-insensitively and whose state matches any of the given forms
// (2-letter abbreviation or full name), in id order. Matching uses Unicode
// case folding in Go; SQLite's LOWER() only folds ASCII, which would miss
// cities like "Köln" queried as "KÖLN".
func (t *Tx) FacilitiesByCityState(ctx context.Context, city string, stateForms []string) ([]contracts.Facility, error) {
	if city == "" || len(stateForms) == 0 {
		return nil, nil
	}
	fold := cases.Fold()
	wantCity := fold.String(city)
	wantStates := make(map[string]bool, len(stateForms))
	for _, s := range stateForms {
		wantStates[fold.String(s)] = true
	}
	candidates, err := queryFacilities(ctx, t.tx,
		facilitySelect+` WHERE city IS NOT NULL ORDER BY facility_id ASC`)
	if err != nil {
		return nil, err
	}
	var out []contracts.Facility
	for _, f := range candidates {
		if fold.String(f.City) == wantCity && wantStates[fold.String(f.State)] {
			out = append(out, f)
		}
	}
	return out, nil
}

// LanesTouching returns lanes whose origin or destination is any of the
// facilities, in lane id order.
func (t *Tx) LanesTouching(ctx context.Context, facilityIDs []string) ([]contracts.Lane, error) {
	if len(facilityIDs) == 0 {
		return nil, nil
	}
	ph := placeholders(len(facilityIDs))
	query := laneSelect + ` WHERE origin_facility_id IN (` + ph + `) OR dest_facility_id IN (` + ph + `) ORDER BY lane_id ASC`
	args := make([]any, 0, 2*len(facilityIDs))
	for _, id := range facilityIDs {
		args = append(args, id)
	}
	for _, id := range facilityIDs {
		args = append(args, id)
	}
	return queryLanes(ctx, t.tx, query, args...)
}

// LanesByIDs returns lanes for the given ids, in id order.
func (t *Tx) LanesByIDs(ctx context.Context, ids []string) ([]contracts.Lane, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := laneSelect + ` WHERE lane_id IN (` + placeholders(len(ids)) + `) ORDER BY lane_id ASC`
	return queryLanes(ctx, t.tx, query, toAnySlice(ids)...)
}

// ShipmentsByLanes returns shipments on the given lanes, in shipment id
// order.
func (t *Tx) ShipmentsByLanes(ctx context.Context, laneIDs []string) ([]contracts.Shipment, error) {
	if len(laneIDs) == 0 {
		return nil, nil
	}
	query := shipmentSelect + ` WHERE lane_id IN (` + placeholders(len(laneIDs)) + `) ORDER BY shipment_id ASC`
	return queryShipments(ctx, t.tx, query, toAnySlice(laneIDs)...)
}

// ShipmentsByIDs returns shipments for the given ids, in id order.
func (t *Tx) ShipmentsByIDs(ctx context.Context, ids []string) ([]contracts.Shipment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := shipmentSelect + ` WHERE shipment_id IN (` + placeholders(len(ids)) + `) ORDER BY shipment_id ASC`
	return queryShipments(ctx, t.tx, query, toAnySlice(ids)...)
}

// UpsertFacility writes or replaces one facility (CSV bootstrap).
func (d *DB) UpsertFacility(ctx context.Context, f contracts.Facility) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO facilities (facility_id, name, city, state, country, criticality_score)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(facility_id) DO UPDATE SET
			name = excluded.name, city = excluded.city, state = excluded.state,
			country = excluded.country, criticality_score = excluded.criticality_score`,
		f.FacilityID, f.Name, f.City, f.State, f.Country, f.CriticalityScore)
	if err != nil {
		return fmt.Errorf("%w: upsert facility %s: %v", ErrStore, f.FacilityID, err)
	}
	return nil
}

// UpsertLane writes or replaces one lane (CSV bootstrap).
func (d *DB) UpsertLane(ctx context.Context, l contracts.Lane) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO lanes (lane_id, origin_facility_id, dest_facility_id, mode, volume_score)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(lane_id) DO UPDATE SET
			origin_facility_id = excluded.origin_facility_id,
			dest_facility_id = excluded.dest_facility_id,
			mode = excluded.mode, volume_score = excluded.volume_score`,
		l.LaneID, l.OriginFacilityID, l.DestFacilityID, l.Mode, l.VolumeScore)
	if err != nil {
		return fmt.Errorf("%w: upsert lane %s: %v", ErrStore, l.LaneID, err)
	}
	return nil
}

// UpsertShipment writes or replaces one shipment (CSV bootstrap).
func (d *DB) UpsertShipment(ctx context.Context, s contracts.Shipment) error {
	priority := 0
	if s.PriorityFlag {
		priority = 1
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO shipments (shipment_id, lane_id, ship_date, eta_date, status, priority_flag)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(shipment_id) DO UPDATE SET
			lane_id = excluded.lane_id, ship_date = excluded.ship_date,
			eta_date = excluded.eta_date, status = excluded.status,
			priority_flag = excluded.priority_flag`,
		s.ShipmentID, s.LaneID, nullable(s.ShipDate), nullable(s.ETADate), s.Status, priority)
	if err != nil {
		return fmt.Errorf("%w: upsert shipment %s: %v", ErrStore, s.ShipmentID, err)
	}
	return nil
}

const facilitySelect = `SELECT facility_id, name, city, state, country, criticality_score FROM facilities`
const laneSelect = `SELECT lane_id, origin_facility_id, dest_facility_id, mode, volume_score FROM lanes`
const shipmentSelect = `SELECT shipment_id, lane_id, ship_date, eta_date, status, priority_flag FROM shipments`

func facilitiesByIDs(ctx context.Context, q querier, ids []string) ([]contracts.Facility, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := facilitySelect + ` WHERE facility_id IN (` + placeholders(len(ids)) + `) ORDER BY facility_id ASC`
	return queryFacilities(ctx, q, query, toAnySlice(ids)...)
}

func queryFacilities(ctx context.Context, q querier, query string, args ...any) ([]contracts.Facility, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: facilities: %v", ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Facility
	for rows.Next() {
		var f contracts.Facility
		if err := rows.Scan(&f.FacilityID, &f.Name, &f.City, &f.State, &f.Country, &f.CriticalityScore); err != nil {
			return nil, fmt.Errorf("%w: scan facility: %v", ErrStore, err)
		}
		out = append(out, f)
	}
	return out, rowsErr(rows.Err(), "facilities")
}

func queryLanes(ctx context.Context, q querier, query string, args ...any) ([]contracts.Lane, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lanes: %v", ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Lane
	for rows.Next() {
		var l contracts.Lane
		if err := rows.Scan(&l.LaneID, &l.OriginFacilityID, &l.DestFacilityID, &l.Mode, &l.VolumeScore); err != nil {
			return nil, fmt.Errorf("%w: scan lane: %v", ErrStore, err)
		}
		out = append(out, l)
	}
	return out, rowsErr(rows.Err(), "lanes")
}

func queryShipments(ctx context.Context, q querier, query string, args ...any) ([]contracts.Shipment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: shipments: %v", ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Shipment
	for rows.Next() {
		var (
			s        contracts.Shipment
			ship, eta *string
			priority int
		)
		if err := rows.Scan(&s.ShipmentID, &s.LaneID, &ship, &eta, &s.Status, &priority); err != nil {
			return nil, fmt.Errorf("%w: scan shipment: %v", ErrStore, err)
		}
		if ship != nil {
			s.ShipDate = *ship
		}
		if eta != nil {
			s.ETADate = *eta
		}
		s.PriorityFlag = priority == 1
		out = append(out, s)
	}
	return out, rowsErr(rows.Err(), "shipments")
}

func rowsErr(err error, what string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStore, what, err)
	}
	return nil
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
