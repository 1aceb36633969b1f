package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/internal/services"
)

// LicenseHandler serves the public activation and verification endpoints.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
		tracer:  otel.Tracer("keygate/transport"),
	}
}

// Routes returns the router for the public license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/verify", h.Verify)
	return r
}

// DeviceRequest is the shared payload of activate and verify calls.
type DeviceRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
}

// Bind implements render.Binder: shape-checks the key and requires a device.
func (req *DeviceRequest) Bind(r *http.Request) error {
	req.LicenseKey = license.NormalizeKey(req.LicenseKey)
	if req.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	if !license.ValidKeyFormat(req.LicenseKey) {
		return errors.New("license_key must look like LIC-XXXX-XXXX-XXXX-XXXX")
	}
	if req.DeviceID == "" {
		return errors.New("device_id is required")
	}
	return nil
}

// ActivationResponse is the success payload of POST /api/license/activate.
type ActivationResponse struct {
	Status       license.Status `json:"status"`
	ExpiresAt    time.Time      `json:"expires_at"`
	DeviceID     string         `json:"device_id"`
	CustomerName string         `json:"customer_name"`
}

// VerificationResponse is the success payload of POST /api/license/verify.
type VerificationResponse struct {
	Status    license.Status `json:"status"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.activate",
		trace.WithAttributes(attribute.String("http.route", "/api/license/activate")))
	defer span.End()

	var req DeviceRequest
	if err := render.Bind(r, &req); err != nil {
		renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	result, err := h.service.ActivateLicense(ctx, req.LicenseKey, req.DeviceID)
	if err != nil {
		span.RecordError(err)
		renderError(w, r, apierrors.FromDomain(err))
		return
	}

	span.SetAttributes(attribute.String("license.status", string(result.Status)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ActivationResponse{
		Status:       result.Status,
		ExpiresAt:    result.ExpiresAt,
		DeviceID:     result.DeviceID,
		CustomerName: result.CustomerName,
	})
}

// Verify handles POST /api/license/verify.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.verify",
		trace.WithAttributes(attribute.String("http.route", "/api/license/verify")))
	defer span.End()

	var req DeviceRequest
	if err := render.Bind(r, &req); err != nil {
		renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	result, err := h.service.VerifyLicense(ctx, req.LicenseKey, req.DeviceID)
	if err != nil {
		span.RecordError(err)
		renderError(w, r, apierrors.FromDomain(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerificationResponse{
		Status:    result.Status,
		ExpiresAt: result.ExpiresAt,
	})
}

func renderError(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	if err := render.Render(w, r, apierrors.NewErrorResponse(apiErr)); err != nil {
		apierrors.WriteError(w, apiErr)
	}
}
