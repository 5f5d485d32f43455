package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/wcache/cloudsync-core/internal/infrastructure/config"
)

// =============================================================================
// Construction
// =============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json to stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text to stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"unknown values fall back", config.LoggingConfig{Level: "verbose", Format: "xml", Output: "syslog"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if logger := New(tt.cfg, "1.0.0"); logger == nil {
				t.Fatal("New() = nil")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	if logger := Default(); logger == nil {
		t.Fatal("Default() = nil")
	}
}

func TestWith_ReturnsChild(t *testing.T) {
	logger := Default()

	child := logger.With("component", "cloud")
	if child == nil {
		t.Fatal("With() = nil")
	}
	if child == logger {
		t.Error("With() returned the parent logger")
	}
}

// =============================================================================
// Level parsing
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// =============================================================================
// Record contents
// =============================================================================

func TestRecordCarriesDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", "cloudsync"),
			slog.String("version", "test"),
		})
	logger := &Logger{Logger: slog.New(handler)}

	logger.Info("telemetry published", "topic", "/sys/pk/dk/thing/event/property/post")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("parsing log output: %v", err)
	}

	if record["service"] != "cloudsync" {
		t.Errorf("service = %v, want cloudsync", record["service"])
	}
	if record["version"] != "test" {
		t.Errorf("version = %v, want test", record["version"])
	}
	if record["msg"] != "telemetry published" {
		t.Errorf("msg = %v, want telemetry published", record["msg"])
	}
	if record["topic"] != "/sys/pk/dk/thing/event/property/post" {
		t.Errorf("topic = %v", record["topic"])
	}
}
