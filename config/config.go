/*
config.go - Server configuration

PURPOSE:
  Collects server settings from command-line flags, environment variables
  and an optional .env file. Flags win over the environment, the
  environment wins over defaults.

SETTINGS:
  Flag            Env                     Default
  -port           BILLING_PORT            8080
  -db             BILLING_DB              billing.db (":memory:" for tests/demo)
  -tariffs        BILLING_TARIFF_SEED     "" (YAML schedule loaded when the table is empty)
  -cache-ttl      BILLING_CACHE_TTL       5m
  -jwt-secret     BILLING_JWT_SECRET      "" (auth disabled)
  -log-level      BILLING_LOG_LEVEL       info
  -building       BILLING_BUILDING_NAME   "Residential Building"
  -address        BILLING_BUILDING_ADDR   ""
  -max-cars       BILLING_MAX_CARS        1
  -max-motorbikes BILLING_MAX_MOTORBIKES  4
  -demo           BILLING_DEMO            false
  -auto-lock-days BILLING_AUTO_LOCK_DAYS  0 (days after month end; 0 disables)
  -timezone       BILLING_TIMEZONE        UTC (IANA name; decides the current billing month)

SEE ALSO:
  - cmd/server/main.go: Consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/estate-billing/billing"
)

// Config holds every server setting.
type Config struct {
	Port            int
	DBPath          string
	TariffSeedPath  string
	CacheTTL        time.Duration
	JWTSecret       string
	LogLevel        string
	BuildingName    string
	BuildingAddress string
	VehicleLimits   billing.VehicleLimits
	Demo            bool
	AutoLockDays    int
	Timezone        string
	Location        *time.Location
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AuthEnabled reports whether API requests need a bearer token.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// LoadEnvFile loads a .env file into the process environment when it
// exists. Variables already set are kept.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Load parses args (without the program name) with environment defaults
// read through lookup, typically os.LookupEnv.
func Load(args []string, lookup func(string) (string, bool)) (Config, error) {
	env := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	port, err := strconv.Atoi(env("BILLING_PORT", "8080"))
	if err != nil {
		return Config{}, fmt.Errorf("BILLING_PORT: %w", err)
	}
	ttl, err := time.ParseDuration(env("BILLING_CACHE_TTL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("BILLING_CACHE_TTL: %w", err)
	}
	maxCars, err := strconv.Atoi(env("BILLING_MAX_CARS", strconv.Itoa(billing.DefaultVehicleLimits.MaxCarsOwnerOccupied)))
	if err != nil {
		return Config{}, fmt.Errorf("BILLING_MAX_CARS: %w", err)
	}
	maxBikes, err := strconv.Atoi(env("BILLING_MAX_MOTORBIKES", strconv.Itoa(billing.DefaultVehicleLimits.MaxMotorbikes)))
	if err != nil {
		return Config{}, fmt.Errorf("BILLING_MAX_MOTORBIKES: %w", err)
	}
	demo, err := strconv.ParseBool(env("BILLING_DEMO", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("BILLING_DEMO: %w", err)
	}
	autoLock, err := strconv.Atoi(env("BILLING_AUTO_LOCK_DAYS", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("BILLING_AUTO_LOCK_DAYS: %w", err)
	}

	var cfg Config
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", env("BILLING_DB", "billing.db"), "SQLite database path")
	fs.StringVar(&cfg.TariffSeedPath, "tariffs", env("BILLING_TARIFF_SEED", ""), "YAML tariff schedule loaded into an empty table")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", ttl, "Tariff cache TTL")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env("BILLING_JWT_SECRET", ""), "HMAC secret for API tokens; empty disables auth")
	fs.StringVar(&cfg.LogLevel, "log-level", env("BILLING_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.BuildingName, "building", env("BILLING_BUILDING_NAME", "Residential Building"), "Building name printed on invoices")
	fs.StringVar(&cfg.BuildingAddress, "address", env("BILLING_BUILDING_ADDR", ""), "Building address printed on invoices")
	fs.IntVar(&cfg.VehicleLimits.MaxCarsOwnerOccupied, "max-cars", maxCars, "Standard cars allowed per owner-occupied unit (0 disables)")
	fs.IntVar(&cfg.VehicleLimits.MaxMotorbikes, "max-motorbikes", maxBikes, "Motorbikes and e-bikes allowed per unit (0 disables)")
	fs.BoolVar(&cfg.Demo, "demo", demo, "Load demo units and tariffs at startup")
	fs.IntVar(&cfg.AutoLockDays, "auto-lock-days", autoLock, "Lock the previous period this many days after month end (0 disables)")
	fs.StringVar(&cfg.Timezone, "timezone", env("BILLING_TIMEZONE", "UTC"), "Building time zone, e.g. Asia/Ho_Chi_Minh")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.AutoLockDays < 0 {
		return Config{}, fmt.Errorf("invalid auto-lock days %d", cfg.AutoLockDays)
	}
	if cfg.DBPath == "" {
		return Config{}, errors.New("database path is required")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid timezone: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the production zap logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}
