package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/tracmex/nip-reset/internal/config"
	"github.com/tracmex/nip-reset/internal/directory"
	"github.com/tracmex/nip-reset/internal/http/features/nip"
	"github.com/tracmex/nip-reset/internal/http/middleware"
	"github.com/tracmex/nip-reset/internal/httputil"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger     *slog.Logger
	Service    nip.ResetService
	Resolver   directory.Resolver
	Mailer     nip.LinkMailer
	AppBaseURL string
	CORS       config.CORSConfig
	IPRate     config.IPRateConfig
	Security   config.SecurityHeadersConfig
	Validation config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.Security))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimiters := middleware.CreateRateLimiters(cfg.IPRate, cfg.Logger)

	handler := nip.NewHandler(cfg.Logger, cfg.Service, cfg.Resolver, cfg.Mailer, cfg.AppBaseURL)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["lookup"])
		r.Post("/v1/nip/lookup", handler.Lookup)
		r.Get("/v1/nip/token-info", handler.TokenInfo)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["send-link"])
		r.Post("/v1/nip/send-link", handler.SendLink)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["confirm"])
		r.Post("/v1/nip/confirm", handler.Confirm)
	})

	return r
}
