// Package config reads gateway settings from the environment.
//
// Values come from process environment variables; cmd/server loads an
// optional .env file into the environment first. Unset or empty variables
// take the defaults below.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/ct600-gateway/hmrc"
	"github.com/warp/ct600-gateway/store/sheets"
)

// Store backends.
const (
	StoreSheets = "sheets"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds every setting the server needs.
type Config struct {
	HTTPAddr       string
	Env            string
	AllowedOrigins []string
	LogLevel       string
	RateLimitRPS   float64
	RateLimitBurst int

	HMRC hmrc.Config

	Store      string
	Sheets     sheets.Config
	SQLitePath string
}

// Load reads the environment.
func Load() Config {
	return Config{
		HTTPAddr:       getEnv("CT600_HTTP_ADDR", ":8080"),
		Env:            getEnv("CT600_ENV", "development"),
		AllowedOrigins: splitList(getEnv("CT600_ALLOWED_ORIGINS", "https://localhost:5001")),
		LogLevel:       getEnv("CT600_LOG_LEVEL", "info"),
		RateLimitRPS:   getFloat("CT600_RATE_LIMIT_RPS", 10),
		RateLimitBurst: getInt("CT600_RATE_LIMIT_BURST", 20),

		HMRC: hmrc.Config{
			BaseURL:      getEnv("HMRC_BASE_URL", hmrc.DefaultBaseURL),
			ClientID:     getEnv("HMRC_CLIENT_ID", ""),
			ClientSecret: getEnv("HMRC_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("HMRC_REDIRECT_URI", ""),
			Timeout:      getDuration("HMRC_TIMEOUT", hmrc.DefaultTimeout),
		},

		Store: strings.ToLower(getEnv("CT600_STORE", StoreSheets)),
		Sheets: sheets.Config{
			SpreadsheetID:   getEnv("GOOGLE_SHEETS_SPREADSHEET_ID", ""),
			SheetName:       getEnv("GOOGLE_SHEETS_SHEET_NAME", sheets.DefaultSheetName),
			CredentialsPath: getEnv("GOOGLE_SHEETS_CREDENTIALS_PATH", "credentials.json"),
		},
		SQLitePath: getEnv("CT600_SQLITE_PATH", "ct600.db"),
	}
}

// Validate rejects settings the server cannot start with. Missing HMRC
// credentials are not fatal here; they surface when first used.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSheets:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID is required for the sheets store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("CT600_SQLITE_PATH is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown CT600_STORE %q (want sheets, sqlite or memory)", c.Store)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive (rps=%v burst=%d)", c.RateLimitRPS, c.RateLimitBurst)
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

// NewLogger builds the process logger: text in development, JSON otherwise.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if c.IsDevelopment() {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return def
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
