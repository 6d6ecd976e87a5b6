// Package logging builds the process logger: slog over a console writer plus
// a date-stamped file per day, pruned after a retention window. All choices
// arrive through Options so the environment is read in one place, by the
// config package.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultPrefix = "foliocore"

// Output formats understood by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options describes where and how the logger writes. The zero value is
// usable apart from Dir, which must name a writable directory.
type Options struct {
	Dir           string
	FilePrefix    string // log file name prefix, defaults to "foliocore"
	RetentionDays int    // log files to keep, defaults to 7 days
	Level         slog.Level
	Format        string           // FormatText (default) or FormatJSON
	Console       io.Writer        // defaults to os.Stdout
	Clock         func() time.Time // defaults to time.Now, injectable for tests
}

func (o Options) withDefaults() Options {
	if o.FilePrefix == "" {
		o.FilePrefix = defaultPrefix
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 7
	}
	if o.Console == nil {
		o.Console = os.Stdout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// FileWriter appends to a per-day log file, switching files when the date
// changes and pruning files older than the retention window.
type FileWriter struct {
	dir        string
	prefix     string
	retention  int
	clock      func() time.Time
	mu         sync.Mutex
	activeDate string
	file       *os.File
}

// NewFileWriter opens the file for today and prunes expired ones.
func NewFileWriter(opts Options) (*FileWriter, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	w := &FileWriter{
		dir:       opts.Dir,
		prefix:    opts.FilePrefix,
		retention: opts.RetentionDays,
		clock:     opts.Clock,
	}
	if err := w.switchFile(w.clock()); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.switchFile(w.clock()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the active file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// Path returns the file currently written to.
func (w *FileWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pathFor(w.activeDate)
}

func (w *FileWriter) pathFor(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, date))
}

func (w *FileWriter) switchFile(now time.Time) error {
	date := now.Format("20060102")
	if date == w.activeDate && w.file != nil {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	file, err := os.OpenFile(w.pathFor(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.activeDate = date
	w.file = file
	w.prune(now)
	return nil
}

func (w *FileWriter) prune(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.retention)
	prefix := w.prefix + "-"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		date, err := time.Parse("20060102", strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log"))
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

// New builds the service logger from opts and installs it as the slog
// default. The returned FileWriter must be closed on shutdown.
func New(opts Options) (*slog.Logger, *FileWriter, error) {
	opts = opts.withDefaults()
	writer, err := NewFileWriter(opts)
	if err != nil {
		return nil, nil, err
	}
	out := io.MultiWriter(opts.Console, writer)
	handlerOptions := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, handlerOptions)
	} else {
		handler = slog.NewTextHandler(out, handlerOptions)
	}
	logger := slog.New(handler).With("service", opts.FilePrefix)
	slog.SetDefault(logger)
	return logger, writer, nil
}

// ParseLevel maps a level name or numeric slog value to a slog.Level.
func ParseLevel(value string, fallback slog.Level) slog.Level {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if i, err := strconv.Atoi(value); err == nil {
		return slog.Level(i)
	}
	return fallback
}

// ParseFormat normalizes a format name. Anything that is not json falls back
// to text.
func ParseFormat(value string) string {
	if strings.ToLower(strings.TrimSpace(value)) == FormatJSON {
		return FormatJSON
	}
	return FormatText
}
