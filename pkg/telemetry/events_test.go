package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"newlines", "line1\nline2\r\nline3", "line1 line2 line3"},
		{"control chars", "a\x00b\x1bc", "a b c"},
		{"collapse whitespace", "  a \t\t b  ", "a b"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got := Sanitize(strings.Repeat("x", 500))
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncation marker, got %q", got[len(got)-5:])
	}
	if len(got) != maxLoggedContent+3 {
		t.Errorf("len = %d, want %d", len(got), maxLoggedContent+3)
	}
}

func TestEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	Event(context.Background(), logger, slog.LevelInfo, "discord", "thread_decision",
		slog.String("decision", "create_thread"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["channel"] != "discord" {
		t.Errorf("channel = %v, want discord", line["channel"])
	}
	if line["event"] != "thread_decision" {
		t.Errorf("event = %v, want thread_decision", line["event"])
	}
	if line["decision"] != "create_thread" {
		t.Errorf("decision = %v, want create_thread", line["decision"])
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogOptions{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line missing")
	}
}

func TestNewLoggerTagsServiceAndRedactsTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogOptions{Level: "info", Format: "json", Output: &buf, Service: "relay", Version: "0.1.0"})

	logger.Info("channel built", slog.String("channel", "discord"), slog.String("bot_token", "xoxb-live"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if line["service"] != "relay" || line["version"] != "0.1.0" {
		t.Errorf("service/version = %v/%v", line["service"], line["version"])
	}
	if line["bot_token"] != redacted {
		t.Errorf("bot_token = %v, want %s", line["bot_token"], redacted)
	}
	if line["channel"] != "discord" {
		t.Errorf("channel = %v, want discord", line["channel"])
	}
	if strings.Contains(buf.String(), "xoxb-live") {
		t.Error("token value leaked into the log")
	}
}

func TestLoggerContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext should return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("FromContext should fall back to the default logger")
	}
}
