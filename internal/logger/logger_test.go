package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
)

// captureOutput points the default logger at a buffer for the duration of the test.
func captureOutput(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	SetOutput(&buf)

	originalLevel := defaultLogger.level
	SetLevel(level)

	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel(originalLevel)
	})

	return &buf
}

func lastEntry(output string) (map[string]interface{}, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("no log output")
	}

	var entry map[string]interface{}
	err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry)
	return entry, err
}

func TestDebug(t *testing.T) {
	buf := captureOutput(t, DEBUG)

	Debug("test debug message", map[string]interface{}{
		"field1": "value1",
		"field2": 42,
	})

	entry, err := lastEntry(buf.String())
	if err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v", err)
	}

	if entry["level"] != "debug" {
		t.Errorf("Expected level debug, got %v", entry["level"])
	}
	if entry["message"] != "test debug message" {
		t.Errorf("Expected message 'test debug message', got %v", entry["message"])
	}
	if entry["field1"] != "value1" {
		t.Errorf("Expected field1=value1, got %v", entry["field1"])
	}
	if entry["field2"] != float64(42) {
		t.Errorf("Expected field2=42, got %v", entry["field2"])
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		logFunc  func(string, ...map[string]interface{})
		expected bool
	}{
		{"debug suppressed at info", INFO, Debug, false},
		{"info emitted at info", INFO, Info, true},
		{"info suppressed at warn", WARN, Info, false},
		{"warn emitted at warn", WARN, Warn, true},
		{"error emitted at error", ERROR, Error, true},
		{"warn suppressed at error", ERROR, Warn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureOutput(t, tt.minLevel)

			tt.logFunc("message")

			if got := buf.Len() > 0; got != tt.expected {
				t.Errorf("Expected output=%v, got output=%v (%q)", tt.expected, got, buf.String())
			}
		})
	}
}

func TestLogWithoutFields(t *testing.T) {
	buf := captureOutput(t, INFO)

	Info("no fields")

	entry, err := lastEntry(buf.String())
	if err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v", err)
	}
	if entry["message"] != "no fields" {
		t.Errorf("Expected message 'no fields', got %v", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp on every entry")
	}
}

func TestMultipleFieldMapsMerge(t *testing.T) {
	buf := captureOutput(t, INFO)

	Info("merged",
		map[string]interface{}{"a": "1", "b": "first"},
		map[string]interface{}{"b": "second"},
	)

	entry, err := lastEntry(buf.String())
	if err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v", err)
	}
	if entry["a"] != "1" {
		t.Errorf("Expected a=1, got %v", entry["a"])
	}
	if entry["b"] != "second" {
		t.Errorf("Expected later map to win, got b=%v", entry["b"])
	}
}

func TestSanitizeFields(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    interface{}
		expected interface{}
	}{
		{"short secret", "webhook_secret", "whsec", "[REDACTED]"},
		{"long token", "access_token", "eyJhbGciOiJIUzI1NiJ9", "eyJ...iJ9"},
		{"signature header", "signature", "t=1,v1=abcdef0123", "t=1...123"},
		{"non-string secret", "password", 12345, "[REDACTED]"},
		{"license key stays readable", "license_key", "A4EU-AAAA-BBBB", "A4EU-AAAA-BBBB"},
		{"plain field", "product_id", "prod-1", "prod-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := sanitizeFields(map[string]interface{}{tt.key: tt.value})
			if out[tt.key] != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, out[tt.key])
			}
		})
	}
}

func TestSanitizeFields_Nil(t *testing.T) {
	if sanitizeFields(nil) != nil {
		t.Error("Expected nil for nil fields")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		" Error ": ERROR,
		"":        INFO,
		"verbose": INFO,
	}

	for input, expected := range tests {
		if got := ParseLevel(input); got != expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, expected)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	if DEBUG.String() != "DEBUG" || ERROR.String() != "ERROR" {
		t.Error("Unexpected level names")
	}
	if LogLevel(99).String() != "UNKNOWN" {
		t.Errorf("Expected UNKNOWN, got %s", LogLevel(99).String())
	}
}
