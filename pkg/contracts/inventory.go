package contracts

// Inventory entities are loaded from CSV at bootstrap and are read-only
// during event processing.

// Facility is a plant, DC, port or similar node in the network.
type Facility struct {
	FacilityID       string
	Name             string
	City             string
	State            string
	Country          string
	CriticalityScore int // 1-10
}

// Lane connects two facilities.
type Lane struct {
	LaneID           string
	OriginFacilityID string
	DestFacilityID   string
	Mode             string
	VolumeScore      int // 1-10
}

// Shipment statuses that count as active when no date is parsable.
const (
	ShipmentPending   = "PENDING"
	ShipmentInTransit = "IN_TRANSIT"
	ShipmentScheduled = "SCHEDULED"
)

// Shipment moves on a lane. Dates are YYYY-MM-DD strings as loaded from CSV;
// empty means unknown.
type Shipment struct {
	ShipmentID   string
	LaneID       string
	ShipDate     string
	ETADate      string
	Status       string
	PriorityFlag bool
}
