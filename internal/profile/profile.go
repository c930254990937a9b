package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the reminder service.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where remindkit stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Scheduler configuration
	PollInterval   time.Duration // REMINDKIT_POLL_INTERVAL (default: 1m)
	GracePeriod    time.Duration // REMINDKIT_GRACE_PERIOD (default: 30s)
	BatchSize      int           // REMINDKIT_BATCH_SIZE (default: 50)
	MaxConcurrency int           // REMINDKIT_MAX_CONCURRENCY (default: 8)
	MaxRetries     int           // REMINDKIT_MAX_RETRIES (default: 3)
	RetryDelay     time.Duration // REMINDKIT_RETRY_DELAY (default: 5s)
	// FailedThreshold is the number of consecutive permanent delivery
	// failures after which a reminder is marked failed.
	FailedThreshold int // REMINDKIT_FAILED_THRESHOLD (default: 3)

	// Escalation configuration
	EscalationInterval time.Duration // REMINDKIT_ESCALATION_INTERVAL (default: 1m)

	// DefaultTimezone is the IANA zone used when a reminder has none.
	DefaultTimezone string // REMINDKIT_DEFAULT_TIMEZONE (default: UTC)

	// Webhook channel configuration. The webhook channel is registered only
	// when WebhookURL is set.
	WebhookURL     string        // REMINDKIT_WEBHOOK_URL
	WebhookSecret  string        // REMINDKIT_WEBHOOK_SECRET
	WebhookTimeout time.Duration // REMINDKIT_WEBHOOK_TIMEOUT (default: 10s)
	WebhookRPS     float64       // REMINDKIT_WEBHOOK_RPS (default: 0, uncapped)

	// Health thresholds
	HealthStaleCycle     time.Duration // REMINDKIT_HEALTH_STALE_CYCLE (default: 3m)
	HealthFailureRate    float64       // REMINDKIT_HEALTH_FAILURE_RATE (default: 0.1)
	UnhealthyStaleCycle  time.Duration // REMINDKIT_UNHEALTHY_STALE_CYCLE (default: 10m)
	UnhealthyFailureRate float64       // REMINDKIT_UNHEALTHY_FAILURE_RATE (default: 0.5)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.PollInterval = getDurationEnv("REMINDKIT_POLL_INTERVAL", time.Minute)
	p.GracePeriod = getDurationEnv("REMINDKIT_GRACE_PERIOD", 30*time.Second)
	p.BatchSize = getIntEnv("REMINDKIT_BATCH_SIZE", 50)
	p.MaxConcurrency = getIntEnv("REMINDKIT_MAX_CONCURRENCY", 8)
	p.MaxRetries = getIntEnv("REMINDKIT_MAX_RETRIES", 3)
	p.RetryDelay = getDurationEnv("REMINDKIT_RETRY_DELAY", 5*time.Second)
	p.FailedThreshold = getIntEnv("REMINDKIT_FAILED_THRESHOLD", 3)
	p.EscalationInterval = getDurationEnv("REMINDKIT_ESCALATION_INTERVAL", time.Minute)
	p.DefaultTimezone = getEnvOrDefault("REMINDKIT_DEFAULT_TIMEZONE", "UTC")
	p.WebhookURL = os.Getenv("REMINDKIT_WEBHOOK_URL")
	p.WebhookSecret = os.Getenv("REMINDKIT_WEBHOOK_SECRET")
	p.WebhookTimeout = getDurationEnv("REMINDKIT_WEBHOOK_TIMEOUT", 10*time.Second)
	p.WebhookRPS = getFloatEnv("REMINDKIT_WEBHOOK_RPS", 0)
	p.HealthStaleCycle = getDurationEnv("REMINDKIT_HEALTH_STALE_CYCLE", 3*time.Minute)
	p.HealthFailureRate = getFloatEnv("REMINDKIT_HEALTH_FAILURE_RATE", 0.1)
	p.UnhealthyStaleCycle = getDurationEnv("REMINDKIT_UNHEALTHY_STALE_CYCLE", 10*time.Minute)
	p.UnhealthyFailureRate = getFloatEnv("REMINDKIT_UNHEALTHY_FAILURE_RATE", 0.5)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "remindkit")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/remindkit"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("remindkit_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.PollInterval <= 0 {
		p.PollInterval = time.Minute
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = 8
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.FailedThreshold <= 0 {
		p.FailedThreshold = 3
	}

	return nil
}
