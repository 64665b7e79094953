package printer

// Status reflects the last-observed connectivity state of a printer.
type Status string

const (
	StatusReady        Status = "ready"
	StatusError         Status = "error"
	StatusDisconnected Status = "disconnected"
)

// Role is a logical print-destination category, independent of physical
// printer identity.
type Role string

const (
	RoleCustomerTicket Role = "customer_ticket"
	RoleKitchenDefault Role = "kitchen_default"
	RoleFiscal         Role = "fiscal"
	RoleStation        Role = "station"
)

// Locator carries the transport-specific address for a Descriptor. Only the
// fields relevant to Kind are populated.
type Locator struct {
	DevicePath string // character-device
	Host       string // network-socket
	Port       int    // network-socket
	SerialNode string // serial-over-bluetooth, RFCOMM-bound node

	// serial-over-bluetooth, BLE GATT variant
	BLEMac           string
	BLEServiceUUID   string
	BLEWriteCharUUID string
}

// Descriptor is the persistent record of one configured physical printer.
type Descriptor struct {
	ID      string
	Name    string
	Kind    Kind
	Locator Locator
	Status  Status
}

// LegacyMigratedID is the synthetic id given to a legacy single-printer
// config on first boot, bound to all non-station roles.
const LegacyMigratedID = "migrated-default"

// RoleAssignment binds a Role to exactly one Descriptor id.
type RoleAssignment struct {
	Role              Role
	PrinterID         string
	StationID         string // only meaningful when Role == RoleStation
	StationName       string // only meaningful when Role == RoleStation
	Copies            int    // natural number >= 1, default 1
	CashDrawerEnabled bool   // only meaningful when Role == RoleCustomerTicket
}

func (a RoleAssignment) copies() int {
	if a.Copies < 1 {
		return 1
	}
	return a.Copies
}

// JobKind enumerates the kinds of print jobs the registry and pipeline
// exchange.
type JobKind string

const (
	JobKitchenOrder   JobKind = "kitchen_order"
	JobAddition       JobKind = "addition"
	JobCustomerTicket JobKind = "customer_ticket"
	JobCashReport     JobKind = "cash_report"
	JobStationTicket  JobKind = "station_ticket"
)

// StationTicket is one entry of a per-station payload split, as returned
// by the rendered-payload fetcher.
type StationTicket struct {
	StationID   string
	StationName string
	PrinterName string
	Copies      int
	EscposB64   string
}

// PrintResult is the outcome of one resolve-and-write attempt.
type PrintResult struct {
	Success     bool
	PrinterID   string
	PrinterName string
	Error       string
	Retryable   bool
}
