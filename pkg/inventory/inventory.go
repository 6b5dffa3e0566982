// Package inventory bootstraps the network tables from CSV files. Loading is
// idempotent: rows upsert by id, so re-running over the same files converges
// to the same inventory.
package inventory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

// ErrBadCSV reports a malformed inventory file.
var ErrBadCSV = errors.New("malformed inventory csv")

// File names expected inside the network data directory.
const (
	FacilitiesFile = "facilities.csv"
	LanesFile      = "lanes.csv"
	ShipmentsFile  = "shipments.csv"
)

// Summary counts what one load wrote.
type Summary struct {
	Facilities int `json:"facilities"`
	Lanes      int `json:"lanes"`
	Shipments  int `json:"shipments"`
}

// LoadDir loads facilities, lanes and shipments from dir. Missing files are
// skipped so partial inventories load cleanly.
func LoadDir(ctx context.Context, db *store.DB, dir string, log *slog.Logger) (Summary, error) {
	if log == nil {
		log = slog.Default()
	}
	var sum Summary

	n, err := loadFile(ctx, filepath.Join(dir, FacilitiesFile), func(r record) error {
		f, err := facilityFrom(r)
		if err != nil {
			return err
		}
		return db.UpsertFacility(ctx, f)
	})
	if err != nil {
		return sum, err
	}
	sum.Facilities = n

	n, err = loadFile(ctx, filepath.Join(dir, LanesFile), func(r record) error {
		l, err := laneFrom(r)
		if err != nil {
			return err
		}
		return db.UpsertLane(ctx, l)
	})
	if err != nil {
		return sum, err
	}
	sum.Lanes = n

	n, err = loadFile(ctx, filepath.Join(dir, ShipmentsFile), func(r record) error {
		s, err := shipmentFrom(r)
		if err != nil {
			return err
		}
		return db.UpsertShipment(ctx, s)
	})
	if err != nil {
		return sum, err
	}
	sum.Shipments = n

	log.Info("network inventory loaded",
		"dir", dir, "facilities", sum.Facilities, "lanes", sum.Lanes, "shipments", sum.Shipments)
	return sum, nil
}

// record is one CSV row addressed by header name.
type record struct {
	path   string
	line   int
	fields map[string]string
}

func (r record) get(name string) string { return strings.TrimSpace(r.fields[name]) }

func (r record) require(name string) (string, error) {
	v := r.get(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s line %d: missing %s", ErrBadCSV, r.path, r.line, name)
	}
	return v, nil
}

func (r record) intField(name string) (int, error) {
	v := r.get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s line %d: %s %q is not an integer", ErrBadCSV, r.path, r.line, name, v)
	}
	return n, nil
}

func (r record) boolField(name string) (bool, error) {
	switch strings.ToLower(r.get(name)) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	}
	return false, fmt.Errorf("%w: %s line %d: %s %q is not a boolean", ErrBadCSV, r.path, r.line, name, r.get(name))
}

func loadFile(ctx context.Context, path string, apply func(record) error) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadCSV, path, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	count := 0
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("%w: %s line %d: %v", ErrBadCSV, path, line, err)
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				fields[name] = row[i]
			}
		}
		if err := apply(record{path: path, line: line, fields: fields}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func facilityFrom(r record) (contracts.Facility, error) {
	id, err := r.require("facility_id")
	if err != nil {
		return contracts.Facility{}, err
	}
	crit, err := r.intField("criticality_score")
	if err != nil {
		return contracts.Facility{}, err
	}
	return contracts.Facility{
		FacilityID:       id,
		Name:             r.get("name"),
		City:             r.get("city"),
		State:            r.get("state"),
		Country:          r.get("country"),
		CriticalityScore: crit,
	}, nil
}

func laneFrom(r record) (contracts.Lane, error) {
	id, err := r.require("lane_id")
	if err != nil {
		return contracts.Lane{}, err
	}
	origin, err := r.require("origin_facility_id")
	if err != nil {
		return contracts.Lane{}, err
	}
	dest, err := r.require("dest_facility_id")
	if err != nil {
		return contracts.Lane{}, err
	}
	vol, err := r.intField("volume_score")
	if err != nil {
		return contracts.Lane{}, err
	}
	return contracts.Lane{
		LaneID:           id,
		OriginFacilityID: origin,
		DestFacilityID:   dest,
		Mode:             r.get("mode"),
		VolumeScore:      vol,
	}, nil
}

func shipmentFrom(r record) (contracts.Shipment, error) {
	id, err := r.require("shipment_id")
	if err != nil {
		return contracts.Shipment{}, err
	}
	lane, err := r.require("lane_id")
	if err != nil {
		return contracts.Shipment{}, err
	}
	priority, err := r.boolField("priority_flag")
	if err != nil {
		return contracts.Shipment{}, err
	}
	return contracts.Shipment{
		ShipmentID:   id,
		LaneID:       lane,
		ShipDate:     r.get("ship_date"),
		ETADate:      r.get("eta_date"),
		Status:       r.get("status"),
		PriorityFlag: priority,
	}, nil
}
