package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Defaults(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", logger.GetLevel())
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("Note: Using OCI history fallback (annotations not available).")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "Using OCI history fallback") {
		t.Errorf("warn message missing: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Errorf("text output should not carry timestamps: %q", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: FormatJSON, Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	WithComponent(logger, "engine").Info("analyzing")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("missing key %q in %v", key, entry)
		}
	}
	if entry["component"] != "engine" {
		t.Errorf("component = %v, want engine", entry["component"])
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}
