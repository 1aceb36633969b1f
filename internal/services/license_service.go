package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keygate/internal/license"
	"keygate/internal/store"
)

// issueKeyRetries bounds regeneration attempts when a freshly generated
// license key collides with an existing record. Collisions are practically
// impossible with a crypto/rand key, so hitting the bound means something
// is badly wrong with the store.
const issueKeyRetries = 3

// LicenseService provides the boundary operations over the customer
// collection.
type LicenseService interface {
	// IssueCustomer creates a customer with a fresh license key.
	IssueCustomer(ctx context.Context, params license.IssueParams) (*license.Customer, error)

	// ListCustomers returns all customer records in creation order.
	ListCustomers(ctx context.Context) ([]*license.Customer, error)

	// RenewCustomer extends a customer's expiry by months (default 3).
	RenewCustomer(ctx context.Context, id, months string) (*license.Customer, error)

	// BanCustomer sets or clears the explicit ban flag.
	BanCustomer(ctx context.Context, id string, banned bool) (*license.Customer, error)

	// ActivateLicense binds a device to the license behind key.
	ActivateLicense(ctx context.Context, key, deviceID string) (*license.ActivationResult, error)

	// VerifyLicense checks an already-activated device's license.
	VerifyLicense(ctx context.Context, key, deviceID string) (*license.VerificationResult, error)
}

type licenseService struct {
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time
	metrics *serviceMetrics
}

// serviceMetrics holds the otel instruments for license operations.
type serviceMetrics struct {
	issues      metric.Int64Counter
	activations metric.Int64Counter
	verifies    metric.Int64Counter
}

// NewLicenseService creates the license service. A nil logger falls back to
// the slog default.
func NewLicenseService(s store.Store, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		store:   s,
		logger:  logger.With(slog.String("service", "license")),
		now:     func() time.Time { return time.Now().UTC() },
		metrics: newServiceMetrics(logger),
	}
}

func newServiceMetrics(logger *slog.Logger) *serviceMetrics {
	meter := otel.Meter("keygate/services")
	m := &serviceMetrics{}
	var err error

	if m.issues, err = meter.Int64Counter("keygate_licenses_issued_total",
		metric.WithDescription("Licenses issued")); err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
		return nil
	}
	if m.activations, err = meter.Int64Counter("keygate_activations_total",
		metric.WithDescription("Activation attempts by outcome")); err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
		return nil
	}
	if m.verifies, err = meter.Int64Counter("keygate_verifications_total",
		metric.WithDescription("Verification attempts by outcome")); err != nil {
		logger.Warn("metrics disabled", slog.String("error", err.Error()))
		return nil
	}
	return m
}

func (m *serviceMetrics) recordIssue(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *serviceMetrics) recordActivation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.activations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *serviceMetrics) recordVerify(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.verifies.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// IssueCustomer creates and stores a new customer record. The store enforces
// key uniqueness; on the (theoretical) collision the key is regenerated.
func (s *licenseService) IssueCustomer(ctx context.Context, params license.IssueParams) (*license.Customer, error) {
	for attempt := 0; ; attempt++ {
		c, err := license.Issue(params, s.now())
		if err != nil {
			s.metrics.recordIssue(ctx, "validation_failed")
			return nil, err
		}

		err = s.store.Insert(ctx, c)
		if errors.Is(err, store.ErrDuplicateKey) && attempt < issueKeyRetries {
			s.logger.WarnContext(ctx, "license key collision, regenerating",
				slog.String("key", license.MaskKey(c.LicenseKey)))
			continue
		}
		if err != nil {
			s.metrics.recordIssue(ctx, "store_error")
			return nil, err
		}

		s.metrics.recordIssue(ctx, "issued")
		s.logger.InfoContext(ctx, "license issued",
			slog.String("customer_id", c.ID),
			slog.String("key", license.MaskKey(c.LicenseKey)),
			slog.Int("max_devices", c.MaxDevices),
			slog.Time("expires_at", c.ExpiresAt))
		return c, nil
	}
}

// ListCustomers returns all customer records.
func (s *licenseService) ListCustomers(ctx context.Context) ([]*license.Customer, error) {
	return s.store.List(ctx)
}

// RenewCustomer extends the expiry of a customer's license.
func (s *licenseService) RenewCustomer(ctx context.Context, id, months string) (*license.Customer, error) {
	now := s.now()
	updated, err := s.store.UpdateByID(ctx, id, func(c *license.Customer) error {
		license.Renew(c, months, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license renewed",
		slog.String("customer_id", id),
		slog.Time("expires_at", updated.ExpiresAt))
	return updated, nil
}

// BanCustomer sets or clears the explicit ban flag.
func (s *licenseService) BanCustomer(ctx context.Context, id string, banned bool) (*license.Customer, error) {
	now := s.now()
	updated, err := s.store.UpdateByID(ctx, id, func(c *license.Customer) error {
		license.SetBanned(c, banned, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license ban flag updated",
		slog.String("customer_id", id),
		slog.Bool("banned", banned),
		slog.String("status", string(updated.Status)))
	return updated, nil
}

// ActivateLicense runs the admission transition atomically against the
// record behind key. An expired rejection still persists the recomputed
// expired status so stored state stays observably accurate.
func (s *licenseService) ActivateLicense(ctx context.Context, key, deviceID string) (*license.ActivationResult, error) {
	key = license.NormalizeKey(key)
	if strings.TrimSpace(deviceID) == "" {
		return nil, &license.ValidationError{Field: "device_id", Message: "is required"}
	}

	now := s.now()
	var result *license.ActivationResult
	_, err := s.store.UpdateByKey(ctx, key, func(c *license.Customer) error {
		res, aErr := license.Activate(c, deviceID, now)
		if aErr != nil {
			var expErr *license.ExpiredError
			if errors.As(aErr, &expErr) {
				return store.Persist(aErr)
			}
			return aErr
		}
		result = res
		return nil
	})
	if err != nil {
		s.metrics.recordActivation(ctx, activationOutcome(err))
		s.logger.InfoContext(ctx, "activation rejected",
			slog.String("key", license.MaskKey(key)),
			slog.String("device_id", deviceID),
			slog.String("reason", activationOutcome(err)))
		return nil, err
	}

	s.metrics.recordActivation(ctx, "activated")
	s.logger.InfoContext(ctx, "device activated",
		slog.String("key", license.MaskKey(key)),
		slog.String("device_id", deviceID),
		slog.Time("expires_at", result.ExpiresAt))
	return result, nil
}

// VerifyLicense runs the heartbeat transition. Banned and expired licenses
// verify successfully with their status in the result; only an unknown key
// or an un-activated device fails.
func (s *licenseService) VerifyLicense(ctx context.Context, key, deviceID string) (*license.VerificationResult, error) {
	key = license.NormalizeKey(key)
	if strings.TrimSpace(deviceID) == "" {
		return nil, &license.ValidationError{Field: "device_id", Message: "is required"}
	}

	now := s.now()
	var result *license.VerificationResult
	_, err := s.store.UpdateByKey(ctx, key, func(c *license.Customer) error {
		res, vErr := license.Verify(c, deviceID, now)
		if vErr != nil {
			return vErr
		}
		result = res
		return nil
	})
	if err != nil {
		s.metrics.recordVerify(ctx, activationOutcome(err))
		return nil, err
	}

	s.metrics.recordVerify(ctx, string(result.Status))
	s.logger.DebugContext(ctx, "device verified",
		slog.String("key", license.MaskKey(key)),
		slog.String("device_id", deviceID),
		slog.String("status", string(result.Status)))
	return result, nil
}

// activationOutcome labels an error for metrics and logs.
func activationOutcome(err error) string {
	var expErr *license.ExpiredError
	var limitErr *license.DeviceLimitError
	var vErr *license.ValidationError
	switch {
	case errors.As(err, &expErr):
		return "expired"
	case errors.As(err, &limitErr):
		return "device_limit_exceeded"
	case errors.As(err, &vErr):
		return "validation_failed"
	case errors.Is(err, license.ErrBanned):
		return "banned"
	case errors.Is(err, license.ErrInvalidLicense):
		return "invalid_key"
	case errors.Is(err, license.ErrNotActivated):
		return "not_activated"
	case errors.Is(err, license.ErrStoreContention):
		return "contention"
	default:
		return "error"
	}
}
