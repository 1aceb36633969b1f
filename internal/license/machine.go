package license

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IssueParams carries admin input for issuing a new license. Months and
// MaxDevices arrive as raw strings from the transport layer; anything
// missing or non-numeric falls back to the package defaults.
type IssueParams struct {
	Name       string
	Email      string
	Months     string
	MaxDevices string
}

// Issue creates a fresh customer record with a newly generated license key,
// an expiry computed from now, and an empty activation set. It does not
// touch the store; the caller is responsible for inserting the record and
// enforcing key uniqueness.
func Issue(p IssueParams, now time.Time) (*Customer, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, &ValidationError{Field: "email", Message: "is required"}
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	months := coercePositive(p.Months, DefaultIssueMonths)
	maxDevices := coercePositive(p.MaxDevices, DefaultMaxDevices)

	c := &Customer{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(p.Name),
		Email:       strings.TrimSpace(p.Email),
		LicenseKey:  key,
		Banned:      false,
		MaxDevices:  maxDevices,
		CreatedAt:   now,
		ExpiresAt:   AddMonths(now, months),
		Activations: []Activation{},
	}
	c.RecomputeStatus(now)
	return c, nil
}

// Renew extends the expiry by the given number of months. An unexpired
// license extends from its current expiry so renewing early never shortens
// the subscription; an expired one restarts from now.
func Renew(c *Customer, months string, now time.Time) {
	base := c.ExpiresAt
	if IsExpired(c.ExpiresAt, now) {
		base = now
	}
	c.ExpiresAt = AddMonths(base, coercePositive(months, DefaultRenewMonths))
	c.RecomputeStatus(now)
}

// SetBanned flips the explicit ban flag. Unbanning recomputes status from
// the expiry test, so a stale banned status never survives an unban.
func SetBanned(c *Customer, banned bool, now time.Time) {
	c.Banned = banned
	c.RecomputeStatus(now)
}

// ActivationResult is the success payload of an Activate transition.
type ActivationResult struct {
	Status       Status
	ExpiresAt    time.Time
	DeviceID     string
	CustomerName string
}

// Activate is the admission-control transition binding a device to a
// license. Order of checks: ban, expiry, idempotent re-activation, device
// limit, admission. Re-activating a known device only bumps its LastSeen
// and never counts against the limit again.
//
// On the expiry path the record's status field is updated to expired before
// the error is returned; the caller decides whether that recompute is
// persisted (it should be, so stored state stays observably accurate).
func Activate(c *Customer, deviceID string, now time.Time) (*ActivationResult, error) {
	if c.Banned {
		c.RecomputeStatus(now)
		return nil, ErrBanned
	}
	if IsExpired(c.ExpiresAt, now) {
		c.RecomputeStatus(now)
		return nil, &ExpiredError{ExpiresAt: c.ExpiresAt}
	}

	if existing := c.FindActivation(deviceID); existing != nil {
		existing.LastSeen = now
	} else {
		if len(c.Activations) >= c.MaxDevices {
			return nil, &DeviceLimitError{MaxDevices: c.MaxDevices}
		}
		c.Activations = append(c.Activations, Activation{
			DeviceID:    deviceID,
			ActivatedAt: now,
			LastSeen:    now,
		})
	}

	c.Status = StatusActive
	return &ActivationResult{
		Status:       c.Status,
		ExpiresAt:    c.ExpiresAt,
		DeviceID:     deviceID,
		CustomerName: c.Name,
	}, nil
}

// VerificationResult is the success payload of a Verify transition.
type VerificationResult struct {
	Status    Status
	ExpiresAt time.Time
}

// Verify is the recurring liveness check for an already-activated device.
// Unlike Activate it never admits a device: an unknown device fails with
// ErrNotActivated. A successful verify bumps LastSeen and reports the
// recomputed status, including banned and expired, as a normal result.
func Verify(c *Customer, deviceID string, now time.Time) (*VerificationResult, error) {
	act := c.FindActivation(deviceID)
	if act == nil {
		return nil, ErrNotActivated
	}
	act.LastSeen = now

	return &VerificationResult{
		Status:    c.RecomputeStatus(now),
		ExpiresAt: c.ExpiresAt,
	}, nil
}

// coercePositive parses a raw numeric string, falling back to def when the
// value is empty, unparsable, or not a positive integer.
func coercePositive(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
