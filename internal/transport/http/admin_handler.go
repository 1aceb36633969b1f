package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "keygate/internal/errors"
	"keygate/internal/license"
	"keygate/internal/services"
)

// AdminHandler serves the customer management endpoints: issue, list,
// renew, ban. The admin identity check itself is middleware; requests
// reaching this handler are pre-authorized.
type AdminHandler struct {
	service  services.LicenseService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(service services.LicenseService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "admin")),
		validate: validator.New(),
	}
}

// Routes returns the router for the admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/customers", h.IssueCustomer)
	r.Get("/customers", h.ListCustomers)
	r.Post("/customers/{id}/renew", h.RenewCustomer)
	r.Post("/customers/{id}/ban", h.BanCustomer)
	return r
}

// flexString accepts either a JSON string or a JSON number, so admin
// clients can send months/max_devices in whichever form; anything else
// falls back to the server-side default at coercion time.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	// Unusable value; coercion applies the default downstream.
	*f = ""
	return nil
}

// IssueRequest is the payload of POST /api/admin/customers.
type IssueRequest struct {
	Name       string     `json:"name" validate:"required"`
	Email      string     `json:"email" validate:"required,email"`
	Months     flexString `json:"months"`
	MaxDevices flexString `json:"max_devices"`
}

// RenewRequest is the payload of POST /api/admin/customers/{id}/renew.
type RenewRequest struct {
	Months flexString `json:"months"`
}

// BanRequest is the payload of POST /api/admin/customers/{id}/ban.
// Omitting banned means ban; unban must be explicit.
type BanRequest struct {
	Banned *bool `json:"banned"`
}

// CustomerResponse is the full record returned to admins, license key
// included; the admin console is how keys reach customers.
type CustomerResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Email       string               `json:"email"`
	LicenseKey  string               `json:"license_key"`
	Status      license.Status       `json:"status"`
	Banned      bool                 `json:"banned"`
	MaxDevices  int                  `json:"max_devices"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Activations []license.Activation `json:"activations"`
}

func toCustomerResponse(c *license.Customer) CustomerResponse {
	return CustomerResponse{
		ID:          c.ID,
		Name:        c.Name,
		Email:       c.Email,
		LicenseKey:  c.LicenseKey,
		Status:      c.Status,
		Banned:      c.Banned,
		MaxDevices:  c.MaxDevices,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
		Activations: c.Activations,
	}
}

// IssueCustomer handles POST /api/admin/customers.
func (h *AdminHandler) IssueCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, apierrors.InvalidRequestWithError(fmt.Errorf("malformed JSON body")))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		renderError(w, r, validationError(err))
		return
	}

	customer, err := h.service.IssueCustomer(ctx, license.IssueParams{
		Name:       req.Name,
		Email:      req.Email,
		Months:     string(req.Months),
		MaxDevices: string(req.MaxDevices),
	})
	if err != nil {
		renderError(w, r, apierrors.FromDomain(err))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toCustomerResponse(customer))
}

// ListCustomers handles GET /api/admin/customers.
func (h *AdminHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		renderError(w, r, apierrors.FromDomain(err))
		return
	}

	out := make([]CustomerResponse, 0, len(customers))
	for _, c := range customers {
		out = append(out, toCustomerResponse(c))
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, out)
}

// RenewCustomer handles POST /api/admin/customers/{id}/renew.
func (h *AdminHandler) RenewCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The body is optional; an empty one renews by the default months.
	var req RenewRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, apierrors.InvalidRequestWithError(fmt.Errorf("malformed JSON body")))
			return
		}
	}

	customer, err := h.service.RenewCustomer(r.Context(), id, string(req.Months))
	if err != nil {
		renderError(w, r, apierrors.FromDomain(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toCustomerResponse(customer))
}

// BanCustomer handles POST /api/admin/customers/{id}/ban.
func (h *AdminHandler) BanCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	banned := true
	var req BanRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, apierrors.InvalidRequestWithError(fmt.Errorf("malformed JSON body")))
			return
		}
		if req.Banned != nil {
			banned = *req.Banned
		}
	}

	customer, err := h.service.BanCustomer(r.Context(), id, banned)
	if err != nil {
		renderError(w, r, apierrors.FromDomain(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toCustomerResponse(customer))
}

// validationError converts validator.ValidationErrors into the API shape,
// reporting the first offending field.
func validationError(err error) *apierrors.APIError {
	var vErrs validator.ValidationErrors
	if ok := isValidationErrors(err, &vErrs); ok && len(vErrs) > 0 {
		field := strings.ToLower(vErrs[0].Field())
		switch vErrs[0].Tag() {
		case "required":
			return apierrors.ErrValidation(field, "is required")
		case "email":
			return apierrors.ErrValidation(field, "must be a valid email address")
		default:
			return apierrors.ErrValidation(field, "is invalid")
		}
	}
	return apierrors.ErrValidationFailed
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	if vErrs, ok := err.(validator.ValidationErrors); ok {
		*target = vErrs
		return true
	}
	return false
}
