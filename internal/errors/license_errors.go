package errors

import (
	stderrors "errors"
	"net/http"
	"time"

	"keygate/internal/license"
)

// Transport mapping for the domain failure kinds. Business outcomes keep
// their machine-readable code and any payload the client needs to act on
// (expiry timestamp, device ceiling). StoreContention is the only retryable
// kind and is marked as such.

// ExpiredDetails carries the expiry timestamp on an expired rejection.
type ExpiredDetails struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// DeviceLimitDetails carries the ceiling on a device-limit rejection.
type DeviceLimitDetails struct {
	MaxDevices int `json:"max_devices"`
}

// FromDomain maps a domain error to its APIError. Unrecognized errors map
// to a generic 500 so internal detail never leaks to clients.
func FromDomain(err error) *APIError {
	var vErr *license.ValidationError
	if stderrors.As(err, &vErr) {
		return ErrValidation(vErr.Field, vErr.Message)
	}

	var expErr *license.ExpiredError
	if stderrors.As(err, &expErr) {
		return NewWithDetails(http.StatusForbidden, license.ErrCodeExpired,
			"License has expired", ExpiredDetails{ExpiresAt: expErr.ExpiresAt})
	}

	var limitErr *license.DeviceLimitError
	if stderrors.As(err, &limitErr) {
		return NewWithDetails(http.StatusConflict, license.ErrCodeDeviceLimitExceeded,
			"Device activation limit reached", DeviceLimitDetails{MaxDevices: limitErr.MaxDevices})
	}

	switch {
	case stderrors.Is(err, license.ErrNotFound):
		return New(http.StatusNotFound, license.ErrCodeNotFound, "Customer not found")
	case stderrors.Is(err, license.ErrInvalidLicense):
		return New(http.StatusUnauthorized, license.ErrCodeInvalidLicense, "License key not recognized")
	case stderrors.Is(err, license.ErrBanned):
		return New(http.StatusForbidden, license.ErrCodeBanned, "License is banned")
	case stderrors.Is(err, license.ErrNotActivated):
		return New(http.StatusPreconditionRequired, license.ErrCodeNotActivated, "Device is not activated for this license")
	case stderrors.Is(err, license.ErrStoreContention):
		apiErr := New(http.StatusServiceUnavailable, license.ErrCodeStoreContention, "Temporary write conflict, retry the request")
		apiErr.Retryable = true
		return apiErr
	}

	return ErrInternalServer
}
