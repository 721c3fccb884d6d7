package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Reset token lifecycle
	TokenTTL        time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int

	// External vehicle directory
	DirectoryBaseURL string
	DirectoryAPIKey  string
	DirectoryTimeout time.Duration

	// Finalization webhook
	WebhookURL      string
	WebhookSecret   string
	WebhookTimeout  time.Duration
	WebhookAttempts int
	WebhookDelay    time.Duration

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// HTTP surface
	AppBaseURL string
	CORS       CORSConfig
	IPRate     IPRateConfig
	Security   SecurityHeadersConfig
	Validation ValidationConfig
}

// CORSConfig holds CORS configuration for the browser modal.
type CORSConfig struct {
	AllowedOrigins []string
}

// IPRateConfig holds per-IP rate limiting for the public endpoints. This is
// transport hygiene; the per-subject issuance limit lives in the reset
// service.
type IPRateConfig struct {
	Enabled           bool
	LookupPerMinute   int
	ConfirmPerMinute  int
	SendLinkPerMinute int
}

// SecurityHeadersConfig holds security header configuration.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
}

// ValidationConfig holds request validation limits.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "nip_reset"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		TokenTTL:        getEnvDuration("TOKEN_TTL", 30*time.Minute),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Minute),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 2),

		DirectoryBaseURL: getEnv("DIRECTORY_BASE_URL", ""),
		DirectoryAPIKey:  getEnv("DIRECTORY_API_KEY", ""),
		DirectoryTimeout: getEnvDuration("DIRECTORY_TIMEOUT", 10*time.Second),

		WebhookURL:      getEnv("WEBHOOK_URL", ""),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		WebhookTimeout:  getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookAttempts: getEnvInt("WEBHOOK_ATTEMPTS", 2),
		WebhookDelay:    getEnvDuration("WEBHOOK_DELAY", 2*time.Second),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", ""),

		AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:8080"),
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		IPRate: IPRateConfig{
			Enabled:           getEnvBool("IP_RATE_LIMIT_ENABLED", true),
			LookupPerMinute:   getEnvInt("IP_RATE_LOOKUP_PER_MINUTE", 10),
			ConfirmPerMinute:  getEnvInt("IP_RATE_CONFIRM_PER_MINUTE", 5),
			SendLinkPerMinute: getEnvInt("IP_RATE_SEND_LINK_PER_MINUTE", 5),
		},
		Security: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "no-referrer"),
		},
		Validation: ValidationConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),
		},
	}

	// Validate required fields
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("WEBHOOK_URL is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.DirectoryBaseURL == "" {
		return nil, fmt.Errorf("DIRECTORY_BASE_URL is required")
	}

	return cfg, nil
}

// HasSMTP returns true if the email channel is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
