package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"foliocore/internal/logging"
)

// Environment variables. A .env file in the working directory is read first
// and never overrides variables already set in the process environment.
const (
	envPort            = "FOLIOCORE_PORT"
	envDBPath          = "FOLIOCORE_DB_PATH"
	envDataDir         = "FOLIOCORE_DATA_DIR"
	envLogDir          = "FOLIOCORE_LOG_DIR"
	envLogLevel        = "FOLIOCORE_LOG_LEVEL"
	envLogFormat       = "FOLIOCORE_LOG_FORMAT"
	envLogRetention    = "FOLIOCORE_LOG_RETENTION_DAYS"
	envBaseCurrency    = "FOLIOCORE_BASE_CURRENCY"
	envDefaultTimezone = "FOLIOCORE_DEFAULT_TIMEZONE"
	envDriftThreshold  = "FOLIOCORE_DRIFT_ALERT_THRESHOLD"
	envWeightTolerance = "FOLIOCORE_WEIGHT_SUM_TOLERANCE"
	envQuoteURL        = "FOLIOCORE_QUOTE_URL"
	envHTTPTimeout     = "FOLIOCORE_HTTP_TIMEOUT"
)

const defaultDBName = "foliocore.db"

// Config holds the server runtime settings.
type Config struct {
	Port                int
	DBPath              string
	LogDir              string
	LogLevel            slog.Level
	LogFormat           string
	LogRetentionDays    int
	BaseCurrency        string
	DefaultTimezone     string
	DriftAlertThreshold float64
	WeightSumTolerance  float64
	QuoteURL            string
	HTTPTimeout         time.Duration
}

// Load assembles the configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                envInt(envPort, 8000),
		DBPath:              os.Getenv(envDBPath),
		LogDir:              os.Getenv(envLogDir),
		LogLevel:            logging.ParseLevel(os.Getenv(envLogLevel), slog.LevelInfo),
		LogFormat:           logging.ParseFormat(os.Getenv(envLogFormat)),
		LogRetentionDays:    envInt(envLogRetention, 7),
		BaseCurrency:        strings.ToUpper(strings.TrimSpace(os.Getenv(envBaseCurrency))),
		DefaultTimezone:     strings.TrimSpace(os.Getenv(envDefaultTimezone)),
		DriftAlertThreshold: envFloat(envDriftThreshold, 0),
		WeightSumTolerance:  envFloat(envWeightTolerance, 0),
		QuoteURL:            strings.TrimSpace(os.Getenv(envQuoteURL)),
		HTTPTimeout:         envDuration(envHTTPTimeout, 0),
	}

	if cfg.DBPath == "" {
		dataDir, err := dataDir()
		if err != nil {
			return Config{}, err
		}
		cfg.DBPath = filepath.Join(dataDir, defaultDBName)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(filepath.Dir(cfg.DBPath), "logs")
	}
	return cfg, nil
}

// dataDir resolves the writable data directory, preferring the explicit
// override and falling back to the per-user config directory.
func dataDir() (string, error) {
	if dir := os.Getenv(envDataDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return dir, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", homeErr
		}
		configDir = filepath.Join(home, ".config")
	}
	dir := filepath.Join(configDir, "foliocore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
