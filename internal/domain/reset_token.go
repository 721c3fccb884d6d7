package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResetToken is a single-use, time-boxed credential for replacing the NIP
// of one customer's vehicle. The raw secret is never stored; only its hash.
type ResetToken struct {
	ID           uuid.UUID
	CustomerID   string
	VehicleID    string
	TokenHash    string
	VehicleLabel string
	Correlation  []byte
	RequestMeta  []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	UsedAt       *time.Time
}

func (t *ResetToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// IsActive reports whether the token can still be confirmed: not yet
// consumed (by confirmation or supersession) and not expired.
func (t *ResetToken) IsActive() bool {
	return t.UsedAt == nil && !t.IsExpired()
}
