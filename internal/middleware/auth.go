package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apierrors "keygate/internal/errors"
)

// AdminAuth gates the admin endpoints behind a shared API key presented in
// the X-API-Key header. An empty configured key disables the admin API
// outright instead of leaving it open.
func AdminAuth(apiKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				logger.WarnContext(r.Context(), "admin API disabled, no key configured",
					slog.String("path", r.URL.Path))
				apierrors.WriteError(w, apierrors.ErrNotFound)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				logger.WarnContext(r.Context(), "admin auth rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				apierrors.WriteError(w, apierrors.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
