// Package directory talks to the external customer/vehicle catalog. The
// catalog is read-only from this service's point of view: it resolves an
// email+phone pair to a customer and their eligible vehicles, and
// re-validates a customer/vehicle pairing before a reset link is issued.
package directory

import "context"

// Outcome tags the shape of a lookup result so callers can switch
// exhaustively instead of probing for field presence.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeSingleVehicle
	OutcomeMultipleVehicles
)

// Vehicle is one eligible target for a NIP reset.
type Vehicle struct {
	VehicleID string `json:"vehicle_id"`
	Label     string `json:"label"`
	Plates    string `json:"plates"`
	Serial    string `json:"serial"`
	Contract  string `json:"contract"`
}

// LookupResult is the tagged outcome of resolving email+phone against the
// catalog. Vehicles is empty when Outcome is OutcomeNotFound.
type LookupResult struct {
	Outcome    Outcome
	CustomerID string
	Vehicles   []Vehicle
}

// Resolver resolves identities against the external catalog.
type Resolver interface {
	// Lookup resolves an email+phone pair. A miss is reported through
	// OutcomeNotFound, not an error; errors mean the catalog itself failed.
	Lookup(ctx context.Context, email, phone string) (*LookupResult, error)

	// Vehicle re-validates that vehicleID belongs to customerID and the
	// given email+phone pair. Returns ErrDirectoryMismatch on any mismatch.
	Vehicle(ctx context.Context, email, phone, customerID, vehicleID string) (*Vehicle, error)
}
