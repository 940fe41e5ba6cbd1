package authority

import "time"

// Admin mirrors the single-row admin_config table: the one distinguished
// principal with cross-escrow override rights.
type Admin struct {
	Principal string
	UpdatedAt time.Time
}
