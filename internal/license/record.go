package license

import (
	"time"
)

// Status is the observable lifecycle state of a license.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusBanned  Status = "banned"
)

// Defaults applied when issue/renew parameters are missing or unparsable.
const (
	DefaultIssueMonths = 6
	DefaultRenewMonths = 3
	DefaultMaxDevices  = 2
)

// Customer is the per-customer entitlement record. One record per customer,
// 1:1 with a license key. The record is exclusively owned by the durable
// store and only mutated through the transitions in this package.
type Customer struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Email      string       `json:"email"`
	LicenseKey string       `json:"license_key"`
	Status     Status       `json:"status"`
	Banned     bool         `json:"banned"`
	MaxDevices int          `json:"max_devices"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Activations []Activation `json:"activations"`
}

// Activation binds one device identifier to a license. Activations are
// created only by the Activate transition and are never deleted.
type Activation struct {
	DeviceID    string    `json:"device_id"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// ComputeStatus derives the status from the ban flag and expiry timestamp.
// An explicit ban is sticky and overrides expiry in every path.
func ComputeStatus(banned bool, expiresAt, now time.Time) Status {
	if banned {
		return StatusBanned
	}
	if IsExpired(expiresAt, now) {
		return StatusExpired
	}
	return StatusActive
}

// RecomputeStatus refreshes the cached status field and returns it.
func (c *Customer) RecomputeStatus(now time.Time) Status {
	c.Status = ComputeStatus(c.Banned, c.ExpiresAt, now)
	return c.Status
}

// FindActivation returns the activation entry for a device, or nil.
func (c *Customer) FindActivation(deviceID string) *Activation {
	for i := range c.Activations {
		if c.Activations[i].DeviceID == deviceID {
			return &c.Activations[i]
		}
	}
	return nil
}

// Clone returns a deep copy so store snapshots never alias live records.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Activations = make([]Activation, len(c.Activations))
	copy(cp.Activations, c.Activations)
	return &cp
}
