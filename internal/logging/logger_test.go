package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stride/internal/config"
	"stride/internal/services"
)

func newTestPretty(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	lvl := new(slog.LevelVar)
	lvl.Set(level)
	return slog.New(newPrettyHandler(buf, lvl, false))
}

func TestPrettyHandlerHoistsComponentAndSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestPretty(&buf, slog.LevelInfo)
	logger = NewComponentLogger(logger, "dispatcher")
	logger.Info("stage completed",
		String(FieldSessionID, "sess-1"),
		String(FieldStage, "analysis"),
		Int("attempt", 2),
		String("note", "two words"),
	)

	line := buf.String()
	if !strings.Contains(line, " INFO dispatcher: stage completed [sess-1/analysis]") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "attempt=2") {
		t.Fatalf("expected attempt attr, got %q", line)
	}
	if !strings.Contains(line, `note="two words"`) {
		t.Fatalf("expected quoted value, got %q", line)
	}
	if strings.Contains(line, "component=") || strings.Contains(line, "session_id=") {
		t.Fatalf("hoisted fields should not repeat: %q", line)
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestPretty(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "WARN shown") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestPrettyHandlerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestPretty(&buf, slog.LevelInfo)
	logger.WithGroup("queue").Info("stats", Int("pending", 3))
	if !strings.Contains(buf.String(), "queue.pending=3") {
		t.Fatalf("expected grouped key, got %q", buf.String())
	}
}

func TestJSONHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, false))
	logger.Warn("disk low", Int64("free_mib", 12))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if payload["msg"] != "disk low" {
		t.Fatalf("unexpected msg: %v", payload["msg"])
	}
	ts, ok := payload["ts"].(string)
	if !ok {
		t.Fatalf("expected ts field, got %v", payload)
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("ts not RFC3339: %v", err)
	}
}

func TestJSONHandlerDropsEmptyStringsAndShortensCaller(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, true))
	logger.Info("claimed", String(FieldSessionID, ""), String(FieldStage, "analysis"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if _, ok := payload[FieldSessionID]; ok {
		t.Fatalf("expected empty session id to be dropped, got %v", payload)
	}
	if payload[FieldStage] != "analysis" {
		t.Fatalf("expected stage to be kept, got %v", payload)
	}
	caller, _ := payload["caller"].(string)
	if !strings.HasPrefix(caller, "logging/logger_test.go:") {
		t.Fatalf("unexpected caller %q", caller)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesDaemonLog(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	logger, err := NewFromConfig(&cfg, "debug", false)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Debug("hello file")

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, DaemonLogFile))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("log file missing message: %q", data)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	base := slog.New(newJSONHandler(&buf, lvl, false))

	ctx := services.WithSessionID(context.Background(), "sess-9")
	ctx = services.WithEntryID(ctx, 42)
	ctx = services.WithStage(ctx, "gateway")
	WithContext(ctx, base).Info("ctx")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload[FieldSessionID] != "sess-9" || payload[FieldStage] != "gateway" {
		t.Fatalf("missing context fields: %v", payload)
	}
	if payload[FieldEntryID] != float64(42) {
		t.Fatalf("unexpected entry id: %v", payload[FieldEntryID])
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, false))
	WarnWithContext(logger, "telemetry failed", "telemetry_failed", Error(errors.New("boom")))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{FieldEventType, FieldErrorHint, FieldImpact} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected %s in %v", key, payload)
		}
	}
}

func TestCleanupOldLogsRemovesExpired(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.log")
	newPath := filepath.Join(dir, "new.log")
	keepPath := filepath.Join(dir, "strided.log")
	for _, p := range []string{oldPath, newPath, keepPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().Add(-72 * time.Hour)
	for _, p := range []string{oldPath, keepPath} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	if removed := CleanupOldLogs(NewNop(), 1, RetentionTarget{Dir: dir, Pattern: "*.log", Exclude: []string{keepPath}}); removed != 1 {
		t.Fatalf("expected one file removed, got %d", removed)
	}
	if removed := CleanupOldLogs(NewNop(), 0, RetentionTarget{Dir: dir}); removed != 0 {
		t.Fatalf("expected disabled retention to keep files, got %d", removed)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, err=%v", err)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected new log kept: %v", err)
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Fatalf("expected excluded log kept: %v", err)
	}
}

func TestNewFansOutToConsoleAndFileOnce(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	logger, err := New(Options{Format: "json", Console: &console, Files: []string{path, path + "/."}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("fan out")

	if !strings.Contains(console.String(), "fan out") {
		t.Fatalf("console missing line: %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if n := strings.Count(string(data), "fan out"); n != 1 {
		t.Fatalf("expected one line in file, got %d: %q", n, data)
	}
}
