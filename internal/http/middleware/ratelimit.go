package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tracmex/nip-reset/internal/config"
	"github.com/tracmex/nip-reset/internal/httputil"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging. This
// protects the transport; the per-vehicle issuance limit is enforced
// separately in the reset service.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "Demasiadas solicitudes. Intenta de nuevo mas tarde.")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.IPRateConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			"lookup":    noOp,
			"send-link": noOp,
			"confirm":   noOp,
		}
	}

	return map[string]func(http.Handler) http.Handler{
		"lookup": RateLimit(RateLimitConfig{
			Requests: cfg.LookupPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
		"send-link": RateLimit(RateLimitConfig{
			Requests: cfg.SendLinkPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
		"confirm": RateLimit(RateLimitConfig{
			Requests: cfg.ConfirmPerMinute,
			Window:   time.Minute,
			Logger:   logger,
		}),
	}
}
