package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, time.Minute, p.PollInterval)
	assert.Equal(t, 30*time.Second, p.GracePeriod)
	assert.Equal(t, 50, p.BatchSize)
	assert.Equal(t, 8, p.MaxConcurrency)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, "UTC", p.DefaultTimezone)
	assert.Equal(t, 0.1, p.HealthFailureRate)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("REMINDKIT_POLL_INTERVAL", "15s")
	t.Setenv("REMINDKIT_BATCH_SIZE", "10")
	t.Setenv("REMINDKIT_DEFAULT_TIMEZONE", "Europe/Berlin")
	t.Setenv("REMINDKIT_HEALTH_FAILURE_RATE", "0.25")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, 15*time.Second, p.PollInterval)
	assert.Equal(t, 10, p.BatchSize)
	assert.Equal(t, "Europe/Berlin", p.DefaultTimezone)
	assert.Equal(t, 0.25, p.HealthFailureRate)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
	}
	p.FromEnv()
	require.NoError(t, p.Validate())

	assert.NotEmpty(t, p.DSN)
	assert.Contains(t, p.DSN, "remindkit_dev.db")
}

func TestValidateClampsInvalidValues(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{
		Mode:      "dev",
		Data:      dir,
		Driver:    "sqlite",
		BatchSize: -1,
	}
	require.NoError(t, p.Validate())

	assert.Equal(t, 50, p.BatchSize)
	assert.Equal(t, 8, p.MaxConcurrency)
	assert.Equal(t, time.Minute, p.PollInterval)
}

func TestValidateUnknownModeFallsBackToDemo(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{Mode: "staging", Data: dir}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)
}
