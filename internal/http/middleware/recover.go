package middleware

import (
	"log/slog"
	"net/http"

	"github.com/tracmex/nip-reset/internal/httputil"
)

// Recover creates middleware that recovers from panics and returns a
// generic 500 without leaking internal detail.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
					)
					httputil.Error(w, http.StatusInternalServerError, "Ocurrio un error. Intenta de nuevo.")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
