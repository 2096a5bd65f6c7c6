package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidscribe/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestNewJSONLoggerWritesStructuredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("stage complete", String(FieldStage, "fetch"), Int64("bytes", 42))

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &payload); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if payload["msg"] != "stage complete" {
		t.Fatalf("unexpected msg: %v", payload["msg"])
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key in %v", payload)
	}
	if payload[FieldStage] != "fetch" {
		t.Fatalf("expected stage field, got %v", payload[FieldStage])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml", OutputPaths: []string{filepath.Join(t.TempDir(), "x.log")}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerRendersSubjectAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	noColor := false
	logger, err := New(Options{Level: "info", Format: "console", OutputPaths: []string{path}, Color: &noColor})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger = NewComponentLogger(logger, "pipeline")
	logger.Info("cache hit",
		String(FieldSourceID, "abc123"),
		String(FieldStage, "transcribe"),
		String("cache_path", "/tmp/cache/transcript/abc123__medium.json"),
	)
	logger.Debug("suppressed")

	out := readLog(t, path)
	if !strings.Contains(out, "INFO [pipeline] abc123 (transcribe) - cache hit") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "    cache_path: /tmp/cache/transcript/abc123__medium.json") {
		t.Fatalf("expected field line, got %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colour codes should be disabled: %q", out)
	}
}

func TestConsoleLoggerColorsWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "color.log")
	color := true
	logger, err := New(Options{Format: "console", OutputPaths: []string{path}, Color: &color})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("cache record unreadable")
	if out := readLog(t, path); !strings.Contains(out, ansiYellow+"WARN"+ansiReset) {
		t.Fatalf("expected coloured level, got %q", out)
	}
}

func TestWithContextAddsRunFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := New(Options{Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithRunID(context.Background(), "run-1")
	ctx = services.WithSourceID(ctx, "abc123")
	ctx = services.WithStage(ctx, "fetch")
	WithContext(ctx, logger).Info("starting")

	out := readLog(t, path)
	for _, want := range []string{`"run_id":"run-1"`, `"source_id":"abc123"`, `"stage":"fetch"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := New(Options{Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	WarnWithContext(logger, "cache corruption", "cache_corrupt", String(FieldImpact, "recomputing stage"))

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload[FieldEventType] != "cache_corrupt" {
		t.Fatalf("event_type = %v", payload[FieldEventType])
	}
	if payload[FieldImpact] != "recomputing stage" {
		t.Fatalf("impact should keep caller value, got %v", payload[FieldImpact])
	}
	if payload[FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), 100) {
		t.Fatal("nop logger should never be enabled")
	}
	NewComponentLogger(nil, "x").Info("ignored")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for input, want := range cases {
		if got := parseLevel(input).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}
