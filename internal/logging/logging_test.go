package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(Config{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("path", "/tmp/p").Msg("reopening")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"reopening"`) || !strings.Contains(out, `"path":"/tmp/p"`) {
		t.Fatalf("warn line missing fields: %s", out)
	}
}

func TestNew_DefaultsToInfoConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(Config{}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cleanup()

	logger.Debug().Msg("debug line")
	logger.Info().Msg("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Fatalf("debug written at default level: %s", out)
	}
	if !strings.Contains(out, "info line") {
		t.Fatalf("info line missing: %s", out)
	}
}

func TestNew_MirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "harmonic.log")

	var buf bytes.Buffer
	logger, cleanup, err := New(Config{Format: "json", File: path}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error().Msg("sink failed")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "sink failed") {
		t.Fatalf("log file = %q, want entry", data)
	}
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, _, err := New(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
