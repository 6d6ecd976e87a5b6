package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileWriterSwitchesFileOnDateChange(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, err := NewFileWriter(Options{Dir: dir, FilePrefix: "app", Clock: clock})
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte("before midnight\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	firstPath := writer.Path()

	now = now.Add(2 * time.Minute)
	if _, err := writer.Write([]byte("after midnight\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	secondPath := writer.Path()

	if firstPath == secondPath {
		t.Fatalf("expected a new file after the date change, still %q", firstPath)
	}
	first, err := os.ReadFile(firstPath)
	if err != nil {
		t.Fatalf("read first file: %v", err)
	}
	second, err := os.ReadFile(secondPath)
	if err != nil {
		t.Fatalf("read second file: %v", err)
	}
	if !strings.Contains(string(first), "before midnight") || strings.Contains(string(first), "after") {
		t.Fatalf("first file content wrong: %q", first)
	}
	if !strings.Contains(string(second), "after midnight") {
		t.Fatalf("second file content wrong: %q", second)
	}
}

func TestFileWriterPrunesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	expired := filepath.Join(dir, "app-"+now.AddDate(0, 0, -3).Format("20060102")+".log")
	kept := filepath.Join(dir, "app-"+now.Format("20060102")+".log")
	foreign := filepath.Join(dir, "other-20200101.log")
	for _, path := range []string{expired, kept, foreign} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	writer, err := NewFileWriter(Options{
		Dir:           dir,
		FilePrefix:    "app",
		RetentionDays: 1,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer writer.Close()

	if _, err := os.Stat(expired); err == nil {
		t.Fatalf("expected expired file to be pruned")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("expected current file to remain: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("expected file with another prefix to remain: %v", err)
	}
}

func TestFileWriterCloseNil(t *testing.T) {
	w := &FileWriter{}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, writer, err := New(Options{
		Dir:     dir,
		Format:  FormatJSON,
		Level:   slog.LevelInfo,
		Console: &console,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer writer.Close()

	logger.Info("server listening", "port", 8000)
	logger.Debug("suppressed")

	out := console.String()
	if !strings.Contains(out, `"service":"foliocore"`) || !strings.Contains(out, `"port":8000`) {
		t.Fatalf("console output missing fields: %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Fatalf("debug record should be filtered at info level")
	}
	fileData, err := os.ReadFile(writer.Path())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(fileData), "server listening") {
		t.Fatalf("file output missing record: %q", fileData)
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	if got := ParseLevel("warning", slog.LevelInfo); got != slog.LevelWarn {
		t.Fatalf("ParseLevel(warning) = %v", got)
	}
	if got := ParseLevel("-4", slog.LevelInfo); got != slog.LevelDebug {
		t.Fatalf("ParseLevel(-4) = %v", got)
	}
	if got := ParseLevel("bogus", slog.LevelError); got != slog.LevelError {
		t.Fatalf("ParseLevel(bogus) = %v", got)
	}
	if got := ParseFormat(" JSON "); got != FormatJSON {
		t.Fatalf("ParseFormat(JSON) = %q", got)
	}
	if got := ParseFormat("yaml"); got != FormatText {
		t.Fatalf("ParseFormat(yaml) = %q", got)
	}
}
