package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetState(t *testing.T) {
	t.Helper()
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState(t)

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"streams": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"streams", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestSetLevelsUpdatesExistingLoggers(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "info", Format: "text"})

	handler := GetLogger("housekeeper").Handler()
	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at info level")
	}

	SetLevels("info", map[string]string{"housekeeper": "debug"})

	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("existing handler should pick up the module override")
	}

	SetLevels("error", nil)
	if handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled after global level raised to error")
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState(t)

	before := GetLogger("variant").Handler()
	if before.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"variant": "debug"}})

	if !before.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("level var should be updated by Initialize")
	}
}

func TestMultiHandlerWritesOncePerSink(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	if count := strings.Count(buf.String(), "debug only message"); count != 1 {
		t.Errorf("got %d copies, want 1. output: %s", count, buf.String())
	}
}

func TestBufferHandlerCapturesModuleAndAttrs(t *testing.T) {
	rb := NewRingBuffer(4)
	logger := slog.New(NewBufferHandler(rb, slog.LevelInfo)).With("module", "streams")

	logger.Debug("hidden")
	logger.WithGroup("probe").Info("source checked", "available", true, "took", 2*time.Second)

	entries := rb.Tail(0)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Module != "streams" {
		t.Errorf("module = %q, want streams", e.Module)
	}
	if e.Level != "info" {
		t.Errorf("level = %q, want info", e.Level)
	}
	if e.Attributes["probe.available"] != true {
		t.Errorf("probe.available = %v", e.Attributes["probe.available"])
	}
	if e.Attributes["probe.took"] != "2s" {
		t.Errorf("probe.took = %v", e.Attributes["probe.took"])
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		rb.Write(LogEntry{Message: msg})
	}

	if rb.Count() != 3 {
		t.Fatalf("count = %d, want 3", rb.Count())
	}

	tests := []struct {
		n    int
		want []string
	}{
		{0, []string{"c", "d", "e"}},
		{2, []string{"d", "e"}},
		{10, []string{"c", "d", "e"}},
	}
	for _, tt := range tests {
		got := rb.Tail(tt.n)
		var msgs []string
		for _, e := range got {
			msgs = append(msgs, e.Message)
		}
		if strings.Join(msgs, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Tail(%d) = %v, want %v", tt.n, msgs, tt.want)
		}
	}
}

func TestFileOutput(t *testing.T) {
	resetState(t)
	path := filepath.Join(t.TempDir(), "hlsrelay.log")

	Initialize(Config{Level: "info", File: FileConfig{Path: path}})
	t.Cleanup(func() { Initialize(Config{Level: "info"}) })

	GetLogger("files").Info("written to disk", "segment", "segment_00001.ts")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to disk") {
		t.Errorf("log file missing entry: %s", data)
	}
	if !strings.Contains(string(data), `"module":"files"`) {
		t.Errorf("log file missing module attr: %s", data)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
