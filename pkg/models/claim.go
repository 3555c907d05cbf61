package models

import "time"

// Claim is a time-bounded advisory claim over a resource. It is not a lock:
// readers must treat an expired claim as released, and holders must renew
// via heartbeat before expiry to keep it.
type Claim struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the claim has lapsed at the given instant.
func (c *Claim) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// HeldBy reports whether the claim is live and held by the given holder.
func (c *Claim) HeldBy(holder string, now time.Time) bool {
	return c.Holder == holder && !c.Expired(now)
}
