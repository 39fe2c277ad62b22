package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"CT600_HTTP_ADDR", "CT600_ENV", "CT600_ALLOWED_ORIGINS", "CT600_STORE",
		"HMRC_BASE_URL", "HMRC_TIMEOUT", "CT600_RATE_LIMIT_RPS", "GOOGLE_SHEETS_SHEET_NAME",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://localhost:5001"}, cfg.AllowedOrigins)
	assert.Equal(t, StoreSheets, cfg.Store)
	assert.Equal(t, "https://test-api.service.hmrc.gov.uk", cfg.HMRC.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.HMRC.Timeout)
	assert.Equal(t, 10.0, cfg.RateLimitRPS)
	assert.Equal(t, "CT600Data", cfg.Sheets.SheetName)
	assert.Equal(t, "credentials.json", cfg.Sheets.CredentialsPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CT600_HTTP_ADDR", ":9999")
	t.Setenv("CT600_ENV", "production")
	t.Setenv("CT600_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CT600_STORE", "SQLite")
	t.Setenv("HMRC_TIMEOUT", "5s")
	t.Setenv("HMRC_CLIENT_ID", "cid")
	t.Setenv("CT600_RATE_LIMIT_BURST", "3")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.HMRC.Timeout)
	assert.Equal(t, "cid", cfg.HMRC.ClientID)
	assert.Equal(t, 3, cfg.RateLimitBurst)
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("CT600_RATE_LIMIT_RPS", "fast")
	t.Setenv("HMRC_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 10.0, cfg.RateLimitRPS)
	assert.Equal(t, 30*time.Second, cfg.HMRC.Timeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("CT600_STORE", "memory")
	cfg := Load()
	require.NoError(t, cfg.Validate())

	cfg.Store = StoreSheets
	cfg.Sheets.SpreadsheetID = ""
	assert.Error(t, cfg.Validate())

	cfg.Sheets.SpreadsheetID = "sheet-1"
	assert.NoError(t, cfg.Validate())

	cfg.Store = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.Store = StoreMemory
	cfg.RateLimitRPS = 0
	assert.Error(t, cfg.Validate())
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Env: "production", LogLevel: "warn"}

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
