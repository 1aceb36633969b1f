package license

import (
	"errors"
	"fmt"
	"time"
)

// Error codes shared with the transport layer.
const (
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeNotFound            = "CUSTOMER_NOT_FOUND"
	ErrCodeInvalidLicense      = "INVALID_LICENSE_KEY"
	ErrCodeBanned              = "LICENSE_BANNED"
	ErrCodeExpired             = "LICENSE_EXPIRED"
	ErrCodeDeviceLimitExceeded = "DEVICE_LIMIT_EXCEEDED"
	ErrCodeNotActivated        = "DEVICE_NOT_ACTIVATED"
	ErrCodeStoreContention     = "STORE_CONTENTION"
)

// Sentinel outcomes. Banned, expired, device-limit and not-activated are
// expected business results of the state machine, carried as ordinary error
// values so callers can branch on them with errors.Is / errors.As.
var (
	// ErrNotFound means a customer id does not exist.
	ErrNotFound = errors.New("customer not found")

	// ErrInvalidLicense means a license key matched no record. Treated like
	// ErrNotFound by the store but kept distinct for the caller.
	ErrInvalidLicense = errors.New("invalid license key")

	// ErrBanned means the license carries an explicit ban flag.
	ErrBanned = errors.New("license is banned")

	// ErrNotActivated means the device has no activation entry; Verify never
	// implicitly activates.
	ErrNotActivated = errors.New("device not activated for this license")

	// ErrStoreContention is the transient, retryable failure surfaced when
	// the per-record write guard cannot be acquired in bounded time.
	ErrStoreContention = errors.New("store contention, retry")
)

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// ExpiredError reports an expired license along with when it expired.
type ExpiredError struct {
	ExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("license expired at %s", e.ExpiresAt.Format(time.RFC3339))
}

// DeviceLimitError reports that the activation ceiling is already reached.
type DeviceLimitError struct {
	MaxDevices int
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device limit of %d reached", e.MaxDevices)
}
