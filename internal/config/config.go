package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Gateway  GatewayConfig
	Email    EmailConfig
	Cleanup  CleanupConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
}

type GatewayConfig struct {
	// AppBaseURL is the browser app's origin; it heads the CORS allow-list and
	// hosts the password reset page.
	AppBaseURL         string
	TurnstileSecret    string
	TurnstileVerifyURL string
	IdentityURL        string
	IdentityAnonKey    string
	UpstreamTimeout    time.Duration
	LockoutDuration    time.Duration
	IPLimitPerMinute   int
	FailureDelayMs     int
	FailureJitterMs    int
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

// Enabled reports whether lockout notification emails should be sent
func (c EmailConfig) Enabled() bool {
	return c.FromAddress != ""
}

type CleanupConfig struct {
	Interval         time.Duration
	AttemptRetention time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:      getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Gateway: GatewayConfig{
			AppBaseURL:         strings.TrimRight(getEnv("APP_BASE_URL", ""), "/"),
			TurnstileSecret:    getEnv("TURNSTILE_SECRET_KEY", ""),
			TurnstileVerifyURL: getEnv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			IdentityURL:        strings.TrimRight(getEnv("IDENTITY_URL", ""), "/"),
			IdentityAnonKey:    getEnv("IDENTITY_ANON_KEY", ""),
			UpstreamTimeout:    getEnvAsDuration("UPSTREAM_TIMEOUT", 8*time.Second),
			LockoutDuration:    getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			IPLimitPerMinute:   getEnvAsInt("GATEWAY_IP_LIMIT_PER_MINUTE", 30),
			FailureDelayMs:     getEnvAsInt("FAILURE_DELAY_MS", 250),
			FailureJitterMs:    getEnvAsInt("FAILURE_JITTER_MS", 150),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("LOCKOUT_NOTIFY_FROM", ""),
		},
		Cleanup: CleanupConfig{
			Interval:         getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AttemptRetention: getEnvAsDuration("ATTEMPT_RETENTION", 30*24*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateGateway(&cfg.Gateway); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateGateway checks the identity backend and app URLs. The Turnstile secret is
// optional; without it every bot check is rejected.
func validateGateway(g *GatewayConfig) error {
	if g.AppBaseURL == "" {
		return fmt.Errorf("APP_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(g.AppBaseURL); err != nil {
		return fmt.Errorf("APP_BASE_URL is not a valid URL: %w", err)
	}
	if g.IdentityURL == "" {
		return fmt.Errorf("IDENTITY_URL is required")
	}
	if _, err := url.ParseRequestURI(g.IdentityURL); err != nil {
		return fmt.Errorf("IDENTITY_URL is not a valid URL: %w", err)
	}
	if g.IdentityAnonKey == "" {
		return fmt.Errorf("IDENTITY_ANON_KEY is required")
	}
	if g.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
