package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "billing.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.AuthEnabled())
	assert.Equal(t, 1, cfg.VehicleLimits.MaxCarsOwnerOccupied)
	assert.Equal(t, 4, cfg.VehicleLimits.MaxMotorbikes)
	assert.False(t, cfg.Demo)
	assert.Zero(t, cfg.AutoLockDays)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestLoad_Timezone(t *testing.T) {
	// GIVEN: A building in Hanoi
	// WHEN: Loading BILLING_TIMEZONE
	// THEN: The location puts 1 April 00:30 local time in April
	cfg, err := Load(nil, lookupFrom(map[string]string{"BILLING_TIMEZONE": "Asia/Ho_Chi_Minh"}))
	require.NoError(t, err)
	require.NotNil(t, cfg.Location)

	local := time.Date(2025, time.March, 31, 17, 30, 0, 0, time.UTC).In(cfg.Location)
	assert.Equal(t, time.April, local.Month())
	assert.Equal(t, 1, local.Day())
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	// GIVEN: Environment settings for port, TTL and secret
	// WHEN: Passing a -port flag as well
	// THEN: The flag wins and the other env values apply

	env := lookupFrom(map[string]string{
		"BILLING_PORT":       "9000",
		"BILLING_CACHE_TTL":  "30s",
		"BILLING_JWT_SECRET": "s3cret",
		"BILLING_DEMO":       "true",
	})
	cfg, err := Load([]string{"-port", "3000", "-db", ":memory:"}, env)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.AuthEnabled())
	assert.True(t, cfg.Demo)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"bad env port", nil, map[string]string{"BILLING_PORT": "http"}},
		{"port out of range", []string{"-port", "70000"}, nil},
		{"bad ttl", nil, map[string]string{"BILLING_CACHE_TTL": "soon"}},
		{"bad level", []string{"-log-level", "loud"}, nil},
		{"empty db", []string{"-db", ""}, nil},
		{"unknown flag", []string{"-nope"}, nil},
		{"negative auto-lock", []string{"-auto-lock-days", "-1"}, nil},
		{"bad auto-lock env", nil, map[string]string{"BILLING_AUTO_LOCK_DAYS": "ten"}},
		{"unknown timezone", []string{"-timezone", "Mars/Olympus"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, lookupFrom(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BILLING_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BILLING_TEST_ENV_FILE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("BILLING_TEST_ENV_FILE"))
}

func TestNewLogger(t *testing.T) {
	cfg, err := Load([]string{"-log-level", "debug"}, lookupFrom(nil))
	require.NoError(t, err)
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
