package linker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
)

type fakeInventory struct {
	facilities []contracts.Facility
	lanes      []contracts.Lane
	shipments  []contracts.Shipment
}

func (f *fakeInventory) FacilitiesByIDs(_ context.Context, ids []string) ([]contracts.Facility, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []contracts.Facility
	for _, fac := range f.facilities {
		if want[fac.FacilityID] {
			out = append(out, fac)
		}
	}
	return out, nil
}

func (f *fakeInventory) FacilitiesByCityState(_ context.Context, city string, stateForms []string) ([]contracts.Facility, error) {
	forms := map[string]bool{}
	for _, s := range stateForms {
		forms[s] = true
	}
	var out []contracts.Facility
	for _, fac := range f.facilities {
		if equalFold(fac.City, city) && forms[lower(fac.State)] {
			out = append(out, fac)
		}
	}
	return out, nil
}

func (f *fakeInventory) LanesTouching(_ context.Context, facilityIDs []string) ([]contracts.Lane, error) {
	want := map[string]bool{}
	for _, id := range facilityIDs {
		want[id] = true
	}
	var out []contracts.Lane
	for _, l := range f.lanes {
		if want[l.OriginFacilityID] || want[l.DestFacilityID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeInventory) ShipmentsByLanes(_ context.Context, laneIDs []string) ([]contracts.Shipment, error) {
	want := map[string]bool{}
	for _, id := range laneIDs {
		want[id] = true
	}
	var out []contracts.Shipment
	for _, s := range f.shipments {
		if want[s.LaneID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func equalFold(a, b string) bool { return lower(a) == lower(b) }

func lower(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] >= 'A' && out[i] <= 'Z' {
			out[i] += 'a' - 'A'
		}
	}
	return string(out)
}

func pinnedScope(t *testing.T) *determinism.Scope {
	t.Helper()
	return determinism.Pinned(determinism.Context{
		Seed:      7,
		Timestamp: time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC),
		RunID:     "R-LINK",
	})
}

func avonInventory() *fakeInventory {
	return &fakeInventory{
		facilities: []contracts.Facility{
			{FacilityID: "PLANT-01", Name: "Avon Plant", City: "Avon", State: "IN", CriticalityScore: 8},
			{FacilityID: "DC-05", Name: "Indy DC", City: "Indianapolis", State: "Indiana", CriticalityScore: 6},
		},
		lanes: []contracts.Lane{
			{LaneID: "LANE-01", OriginFacilityID: "PLANT-01", DestFacilityID: "DC-05", VolumeScore: 7},
			{LaneID: "LANE-02", OriginFacilityID: "DC-05", DestFacilityID: "PLANT-01", VolumeScore: 3},
			{LaneID: "LANE-09", OriginFacilityID: "X-1", DestFacilityID: "X-2", VolumeScore: 9},
		},
		shipments: []contracts.Shipment{
			{ShipmentID: "SHP-1001", LaneID: "LANE-01", ShipDate: "2025-12-30", Status: "SCHEDULED"},
			{ShipmentID: "SHP-1002", LaneID: "LANE-01", ETADate: "2026-01-15", Status: "IN_TRANSIT", PriorityFlag: true},
			{ShipmentID: "SHP-1003", LaneID: "LANE-02", Status: "PENDING"},
			{ShipmentID: "SHP-1004", LaneID: "LANE-02", ShipDate: "2026-06-01", Status: "SCHEDULED"},
			{ShipmentID: "SHP-1005", LaneID: "LANE-02", ShipDate: "2025-11-01", Status: "DELIVERED"},
		},
	}
}

func TestLink_ProvidedFacilities(t *testing.T) {
	ev := &contracts.Event{EventID: "E1", Facilities: []string{"PLANT-01", "PLANT-01"}}
	res, err := Link(context.Background(), ev, avonInventory(), pinnedScope(t), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"PLANT-01"}, ev.Facilities)
	assert.Equal(t, 1.0, ev.Confidence(contracts.ChannelFacility))
	assert.Equal(t, contracts.ProvenanceProvided, ev.Provenance(contracts.ChannelFacility))
	require.Len(t, res.Facilities, 1)
	assert.Equal(t, 8, res.Facilities[0].CriticalityScore)
}

func TestLink_CityStateUnambiguous(t *testing.T) {
	ev := &contracts.Event{
		EventID: "E2",
		Title:   "Chemical spill near Avon, IN",
	}
	_, err := Link(context.Background(), ev, avonInventory(), pinnedScope(t), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"PLANT-01"}, ev.Facilities)
	assert.Equal(t, 0.75, ev.Confidence(contracts.ChannelFacility))
	assert.Equal(t, contracts.ProvenanceCityState, ev.Provenance(contracts.ChannelFacility))

	// Lanes touch the facility in either direction.
	assert.Equal(t, []string{"LANE-01", "LANE-02"}, ev.Lanes)
	assert.Equal(t, 0.75, ev.Confidence(contracts.ChannelLanes))

	// SHP-1004 is beyond the 30-day window; SHP-1005 is past and inactive.
	assert.Equal(t, []string{"SHP-1001", "SHP-1002", "SHP-1003"}, ev.Shipments)
	assert.Equal(t, 0.60, ev.Confidence(contracts.ChannelShipments))
	assert.Equal(t, 3, ev.ShipmentsTotalLinked)
	assert.False(t, ev.ShipmentsTruncated)
	assert.NotEmpty(t, ev.LinkingNotes)
}

func TestLink_FullStateNameMatchesAbbreviatedRow(t *testing.T) {
	inv := avonInventory()
	ev := &contracts.Event{EventID: "E3", Title: "Strike announced in Avon, Indiana"}
	_, err := Link(context.Background(), ev, inv, pinnedScope(t), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"PLANT-01"}, ev.Facilities)
}

func TestLink_CityStateAmbiguous(t *testing.T) {
	inv := avonInventory()
	inv.facilities = append(inv.facilities, contracts.Facility{
		FacilityID: "PLANT-02", City: "Avon", State: "Indiana", CriticalityScore: 5,
	})
	ev := &contracts.Event{EventID: "E4", Title: "Road closed in Avon, IN"}
	_, err := Link(context.Background(), ev, inv, pinnedScope(t), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"PLANT-01", "PLANT-02"}, ev.Facilities)
	assert.Equal(t, 0.55, ev.Confidence(contracts.ChannelFacility))
	assert.Equal(t, contracts.ProvenanceCityStateAmbiguous, ev.Provenance(contracts.ChannelFacility))
}

func TestLink_FacilityIDToken(t *testing.T) {
	ev := &contracts.Event{
		EventID: "E5",
		Title:   "Power outage reported at DC-05 overnight",
	}
	_, err := Link(context.Background(), ev, avonInventory(), pinnedScope(t), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"DC-05"}, ev.Facilities)
	assert.Equal(t, 1.0, ev.Confidence(contracts.ChannelFacility))
	assert.Equal(t, contracts.ProvenanceFacilityIDExact, ev.Provenance(contracts.ChannelFacility))
}

func TestLink_UnknownFacilityTokenIgnored(t *testing.T) {
	ev := &contracts.Event{EventID: "E6", Title: "Incident at ZONE-99 site"}
	_, err := Link(context.Background(), ev, avonInventory(), pinnedScope(t), DefaultConfig())
	require.NoError(t, err)

	assert.Empty(t, ev.Facilities)
	assert.Equal(t, 0.0, ev.Confidence(contracts.ChannelFacility))
	assert.Equal(t, "", ev.Provenance(contracts.ChannelFacility))
	assert.Equal(t, 0.0, ev.Confidence(contracts.ChannelLanes))
	assert.Equal(t, 0.0, ev.Confidence(contracts.ChannelShipments))
}

func TestLink_ShipmentCapSetsTruncated(t *testing.T) {
	inv := avonInventory()
	inv.shipments = nil
	for i := 0; i < 60; i++ {
		inv.shipments = append(inv.shipments, contracts.Shipment{
			ShipmentID: fmt.Sprintf("SHP-%04d", i),
			LaneID:     "LANE-01",
			Status:     "PENDING",
		})
	}
	ev := &contracts.Event{EventID: "E7", Facilities: []string{"PLANT-01"}}
	_, err := Link(context.Background(), ev, inv, pinnedScope(t), DefaultConfig())
	require.NoError(t, err)

	assert.Len(t, ev.Shipments, 50)
	assert.Equal(t, 60, ev.ShipmentsTotalLinked)
	assert.True(t, ev.ShipmentsTruncated)
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "IN", NormalizeState("in"))
	assert.Equal(t, "IN", NormalizeState("Indiana"))
	assert.Equal(t, "NY", NormalizeState("new york"))
	assert.Equal(t, "ELSEWHERE", NormalizeState("Elsewhere"))
}

func TestShipmentInWindow_ParsedDateOutsideWindowLosesToStatus(t *testing.T) {
	today := time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)
	horizon := today.AddDate(0, 0, 30)

	// A parsable out-of-window date excludes the shipment even when active.
	s := contracts.Shipment{ShipDate: "2026-06-01", Status: "PENDING"}
	assert.False(t, shipmentInWindow(s, today, horizon))

	// An unparsable date falls back to the status check.
	s = contracts.Shipment{ShipDate: "soon", Status: "PENDING"}
	assert.True(t, shipmentInWindow(s, today, horizon))
}
