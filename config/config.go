// Package config loads server settings from .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Leave    LeaveConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	// BootstrapAdminID is created as an admin on first start when no
	// employees exist, so the API has someone to authorize.
	BootstrapAdminID string
}

type DatabaseConfig struct {
	Path string
}

type LeaveConfig struct {
	DefaultAnnualDays decimal.Decimal
}

type LogConfig struct {
	Level string
}

var defaults = map[string]any{
	"PORT":                      8080,
	"DB_PATH":                   "leave.db",
	"LOG_LEVEL":                 "info",
	"LEAVE_DEFAULT_ANNUAL_DAYS": "15",
	"CORS_ALLOWED_ORIGINS":      "http://localhost:5173,http://localhost:8080",
	"RATE_LIMIT_RPS":            10.0,
	"RATE_LIMIT_BURST":          20,
	"BOOTSTRAP_ADMIN_ID":        "admin",
}

// Load reads envFiles (default ".env") into the process environment when
// they exist, then resolves every setting from the environment with defaults.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	days, err := decimal.NewFromString(v.GetString("LEAVE_DEFAULT_ANNUAL_DAYS"))
	if err != nil {
		return Config{}, fmt.Errorf("LEAVE_DEFAULT_ANNUAL_DAYS: %w", err)
	}
	if days.IsNegative() {
		return Config{}, fmt.Errorf("LEAVE_DEFAULT_ANNUAL_DAYS: must not be negative")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:             v.GetInt("PORT"),
			AllowedOrigins:   splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
			RateLimitRPS:     v.GetFloat64("RATE_LIMIT_RPS"),
			RateLimitBurst:   v.GetInt("RATE_LIMIT_BURST"),
			BootstrapAdminID: v.GetString("BOOTSTRAP_ADMIN_ID"),
		},
		Database: DatabaseConfig{Path: v.GetString("DB_PATH")},
		Leave:    LeaveConfig{DefaultAnnualDays: days},
		Log:      LogConfig{Level: strings.ToLower(v.GetString("LOG_LEVEL"))},
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("PORT: %d out of range", cfg.Server.Port)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
