// Package config loads server settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	Port         string
	IsProduction bool
	LogLevel     slog.Level

	StoreDriver   string
	SQLitePath    string
	DatabaseURL   string
	RunMigrations bool

	// RateLimit uses the limiter format, e.g. "300-M" for 300 per minute.
	RateLimit          string
	CORSAllowedOrigins []string

	IncomeAccountCode string
	RefundAccountCode string
	LoadDemoScenario  string
}

// LoadConfig reads .env (if present), then the process environment.
// Environment variables win over .env values, which win over defaults.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("IS_PRODUCTION", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "finance.db")
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("RATE_LIMIT", "300-M")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("INCOME_ACCOUNT_CODE", "4100")
	v.SetDefault("REFUND_ACCOUNT_CODE", "4190")
	v.SetDefault("DEMO_SCENARIO", "")
	v.AutomaticEnv()

	cfg := &Config{
		Port:              v.GetString("PORT"),
		IsProduction:      v.GetBool("IS_PRODUCTION"),
		StoreDriver:       strings.ToLower(v.GetString("STORE_DRIVER")),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		DatabaseURL:       v.GetString("PGSQL_URL"),
		RunMigrations:     v.GetBool("RUN_MIGRATIONS"),
		RateLimit:         v.GetString("RATE_LIMIT"),
		IncomeAccountCode: v.GetString("INCOME_ACCOUNT_CODE"),
		RefundAccountCode: v.GetString("REFUND_ACCOUNT_CODE"),
		LoadDemoScenario:  v.GetString("DEMO_SCENARIO"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("PGSQL_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want memory, sqlite or postgres)", c.StoreDriver)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	return nil
}
