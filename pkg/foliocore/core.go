package foliocore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Options controls Core initialization.
type Options struct {
	DBPath              string
	Logger              *slog.Logger
	BaseCurrency        string
	DefaultTimezone     string
	DriftAlertThreshold float64 // percentage points, e.g. 5 means alert at |drift| >= 5%
	WeightSumTolerance  float64 // allowed deviation from 100 for sibling weights
	QuoteURL            string
	HTTPTimeout         time.Duration
	QuoteProvider       QuoteProvider // optional, overrides the built-in fetcher
}

// Core provides access to portfolio ledger business logic and storage.
type Core struct {
	db     *sql.DB
	logger *slog.Logger
	quotes QuoteProvider
	dbPath string

	baseCurrency    string
	defaultTimezone string
	driftThreshold  decimal.Decimal
	weightTolerance decimal.Decimal
}

// Open initializes a Core using the provided database path and defaults.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logger.Warn("pragma foreign_keys failed", "err", err)
	}

	if err := initDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	provider := opts.QuoteProvider
	if provider == nil {
		provider = newQuoteFetcher(quoteFetcherOptions{
			Logger:      logger,
			QuoteURL:    opts.QuoteURL,
			HTTPTimeout: defaultDuration(opts.HTTPTimeout, 15*time.Second),
		})
	}

	return &Core{
		db:              db,
		logger:          logger,
		quotes:          provider,
		dbPath:          cleanPath,
		baseCurrency:    defaultString(opts.BaseCurrency, "CNY"),
		defaultTimezone: defaultString(opts.DefaultTimezone, "Asia/Shanghai"),
		driftThreshold:  decimal.NewFromFloat(defaultFloat(opts.DriftAlertThreshold, 5)),
		weightTolerance: decimal.NewFromFloat(defaultFloat(opts.WeightSumTolerance, 0.0001)),
	}, nil
}

// Close releases database resources.
func (c *Core) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DBPath returns the underlying database path.
func (c *Core) DBPath() string {
	return c.dbPath
}

// BaseCurrency returns the configured reporting currency.
func (c *Core) BaseCurrency() string {
	return c.baseCurrency
}

// WithTx executes a function within a database transaction. Rollback on
// error, commit on success; panics roll back and re-panic.
func (c *Core) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(ErrCodeDatabase, "failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.logger.Error("transaction rollback failed on panic", "error", rbErr, "panic_value", p)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.logger.Error("transaction rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError(ErrCodeDatabase, "failed to commit transaction", err)
	}
	return nil
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultFloat(v float64, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
