package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "leave.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "15", cfg.Leave.DefaultAnnualDays.String())
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10.0, cfg.Server.RateLimitRPS)
	assert.Equal(t, 20, cfg.Server.RateLimitBurst)
	assert.Equal(t, "admin", cfg.Server.BootstrapAdminID)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LEAVE_DEFAULT_ANNUAL_DAYS", "20.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "0")

	cfg, err := Load(missingEnvFile(t))

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "20.5", cfg.Leave.DefaultAnnualDays.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Zero(t, cfg.Server.RateLimitRPS)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BOOTSTRAP_ADMIN_ID=root\nRATE_LIMIT_BURST=3\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("BOOTSTRAP_ADMIN_ID")
		os.Unsetenv("RATE_LIMIT_BURST")
	})

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "root", cfg.Server.BootstrapAdminID)
	assert.Equal(t, 3, cfg.Server.RateLimitBurst)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=from-file.db\n"), 0o600))
	t.Setenv("DB_PATH", "from-env.db")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"days not a number", "LEAVE_DEFAULT_ANNUAL_DAYS", "fifteen"},
		{"negative days", "LEAVE_DEFAULT_ANNUAL_DAYS", "-1"},
		{"port out of range", "PORT", "70000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load(missingEnvFile(t))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
