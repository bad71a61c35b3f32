package observability

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "debug"},
		{"INFO", "info"},
		{"warning", "warn"},
		{"error", "error"},
		{"nonsense", "info"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input).String(); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitLogger_FileReceivesJSON(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "agent.log")

	InitLogger("info", logFile)
	log.Info().Str("check_field", "check_value").Msg("file format check")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"check_field":"check_value"`) {
		t.Errorf("expected structured JSON in log file, got %q", content)
	}
}

func TestInitTracer_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown error = %v", err)
	}
}
