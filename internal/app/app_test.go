package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp wires a full application over the in-memory store, with the
// admin API keyed and rate limiting off so tests are deterministic.
func newTestApp(t *testing.T) *Application {
	t.Helper()

	t.Setenv("KEYGATE_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yml"))
	t.Setenv("KEYGATE_STORE_BACKEND", "memory")
	t.Setenv("KEYGATE_SECURITY_ADMIN_API_KEY", "test-key")
	t.Setenv("KEYGATE_SECURITY_RATE_LIMIT_ENABLED", "false")
	t.Setenv("KEYGATE_LOGGING_LEVEL", "error")

	app, err := NewApplication()
	require.NoError(t, err)
	t.Cleanup(func() { app.Store.Close() })
	return app
}

func TestApplicationRoutes(t *testing.T) {
	app := newTestApp(t)

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin requires key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/customers", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestApplicationEndToEnd walks issue and activate through the assembled
// router, admin auth included.
func TestApplicationEndToEnd(t *testing.T) {
	app := newTestApp(t)

	body, err := json.Marshal(map[string]any{"name": "Ada", "email": "ada@example.com"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/customers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		LicenseKey string `json:"license_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.LicenseKey)

	body, err = json.Marshal(map[string]any{"license_key": created.LicenseKey, "device_id": "dev1"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/license/activate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
