package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tracmex/nip-reset/internal/config"
	"github.com/tracmex/nip-reset/internal/directory"
	httpserver "github.com/tracmex/nip-reset/internal/http"
	"github.com/tracmex/nip-reset/internal/notification"
	"github.com/tracmex/nip-reset/internal/repository"
	"github.com/tracmex/nip-reset/internal/reset"
	"github.com/tracmex/nip-reset/internal/webhook"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	// Initialize repositories and services
	tokensRepo := repository.NewResetTokensRepository(db)

	notifier := webhook.NewNotifier(webhook.Config{
		URL:      cfg.WebhookURL,
		Secret:   cfg.WebhookSecret,
		Timeout:  cfg.WebhookTimeout,
		Attempts: cfg.WebhookAttempts,
		Delay:    cfg.WebhookDelay,
	}, logger)

	resetService := reset.NewService(reset.Config{
		TokenTTL:        cfg.TokenTTL,
		RateLimitWindow: cfg.RateLimitWindow,
		RateLimitMax:    cfg.RateLimitMax,
	}, db, tokensRepo, notifier)

	resolver := directory.NewClient(directory.ClientConfig{
		BaseURL: cfg.DirectoryBaseURL,
		APIKey:  cfg.DirectoryAPIKey,
		Timeout: cfg.DirectoryTimeout,
	})

	if !cfg.HasSMTP() {
		logger.Error("SMTP configuration is required to deliver reset links")
		os.Exit(1)
	}
	emailService := notification.NewEmailService(notification.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:     logger,
		Service:    resetService,
		Resolver:   resolver,
		Mailer:     emailService,
		AppBaseURL: cfg.AppBaseURL,
		CORS:       cfg.CORS,
		IPRate:     cfg.IPRate,
		Security:   cfg.Security,
		Validation: cfg.Validation,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
