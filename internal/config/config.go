// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Session aggregation
	SessionGap      time.Duration // Gap between samples that closes a session
	SampleTolerance time.Duration // Out-of-order tolerance window for late samples

	// Alert thresholds, normalized 0-1 scores
	DrowsinessTiers Tiers
	StressTiers     Tiers

	// Reward settlement
	MintThreshold   int    // Minimum safety score (0-100) that mints a reward
	BaseRatePerHour string // Credits minted per hour of safe driving at score 100
	DurationCap     time.Duration

	// Ledger store calls
	LedgerTimeout time.Duration
	WriteAttempts int // Retry attempts for transient store failures

	// Safe-stop collaborator
	SafeStopURL    string // Geocode API base URL (optional, mock results if not set)
	SafeStopAPIKey string

	// Security
	RateLimitRPS int
	AdminSecret  string // Shared secret for operator endpoints (optional, open if not set)
}

// Tiers holds the severity cut-offs for one alert type.
// A score >= Critical emits critical, >= High emits high, >= Medium emits
// medium; below Medium the type is quiet.
type Tiers struct {
	Medium   float64
	High     float64
	Critical float64
}

// Validate checks tier ordering. Misordered tiers are a configuration bug,
// not a runtime condition, so callers treat an error here as fatal.
func (t Tiers) Validate(name string) error {
	if t.Medium <= 0 || t.Critical > 1 {
		return fmt.Errorf("%s tiers must lie in (0,1]: medium=%v critical=%v", name, t.Medium, t.Critical)
	}
	if !(t.Medium < t.High && t.High < t.Critical) {
		return fmt.Errorf("%s tiers must be strictly increasing: medium=%v high=%v critical=%v",
			name, t.Medium, t.High, t.Critical)
	}
	return nil
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultSessionGap      = 5 * time.Minute
	DefaultSampleTolerance = 30 * time.Second
	DefaultMintThreshold   = 70
	DefaultBaseRate        = "10.00" // credits/hour at a perfect score
	DefaultDurationCap     = 12 * time.Hour
	DefaultLedgerTimeout   = 5 * time.Second
	DefaultWriteAttempts   = 3
	DefaultRateLimit       = 100
)

// DefaultDrowsinessTiers are the severity cut-offs for drowsiness alerts.
var DefaultDrowsinessTiers = Tiers{Medium: 0.35, High: 0.5, Critical: 0.7}

// DefaultStressTiers are the severity cut-offs for stress alerts.
var DefaultStressTiers = Tiers{Medium: 0.45, High: 0.6, Critical: 0.8}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SessionGap:      getEnvDuration("SESSION_GAP", DefaultSessionGap),
		SampleTolerance: getEnvDuration("SAMPLE_TOLERANCE", DefaultSampleTolerance),
		DrowsinessTiers: Tiers{
			Medium:   getEnvFloat("DROWSINESS_MEDIUM", DefaultDrowsinessTiers.Medium),
			High:     getEnvFloat("DROWSINESS_HIGH", DefaultDrowsinessTiers.High),
			Critical: getEnvFloat("DROWSINESS_CRITICAL", DefaultDrowsinessTiers.Critical),
		},
		StressTiers: Tiers{
			Medium:   getEnvFloat("STRESS_MEDIUM", DefaultStressTiers.Medium),
			High:     getEnvFloat("STRESS_HIGH", DefaultStressTiers.High),
			Critical: getEnvFloat("STRESS_CRITICAL", DefaultStressTiers.Critical),
		},
		MintThreshold:   int(getEnvInt64("MINT_THRESHOLD", DefaultMintThreshold)),
		BaseRatePerHour: getEnv("BASE_RATE_PER_HOUR", DefaultBaseRate),
		DurationCap:     getEnvDuration("DURATION_CAP", DefaultDurationCap),
		LedgerTimeout:   getEnvDuration("LEDGER_TIMEOUT", DefaultLedgerTimeout),
		WriteAttempts:   int(getEnvInt64("WRITE_ATTEMPTS", DefaultWriteAttempts)),
		SafeStopURL:     os.Getenv("SAFESTOP_URL"),
		SafeStopAPIKey:  os.Getenv("SAFESTOP_API_KEY"),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.SessionGap <= 0 {
		return fmt.Errorf("SESSION_GAP must be positive")
	}
	if c.SampleTolerance < 0 {
		return fmt.Errorf("SAMPLE_TOLERANCE must not be negative")
	}
	if c.MintThreshold < 0 || c.MintThreshold > 100 {
		return fmt.Errorf("MINT_THRESHOLD must be in [0,100]")
	}
	if c.WriteAttempts < 1 {
		return fmt.Errorf("WRITE_ATTEMPTS must be at least 1")
	}
	if err := c.DrowsinessTiers.Validate("drowsiness"); err != nil {
		return err
	}
	if err := c.StressTiers.Validate("stress"); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
