package version

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		contents *string
		expected string
	}{
		{"missing file falls back", nil, "dev"},
		{"file wins", strPtr("1.4.2\n"), "1.4.2"},
		{"blank file falls back", strPtr("  \n"), "dev"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "VERSION"+string(rune('a'+i)))
			if tt.contents != nil {
				if err := os.WriteFile(path, []byte(*tt.contents), 0o644); err != nil {
					t.Fatalf("Failed to write version file: %v", err)
				}
			}

			if got := Load(path); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func strPtr(s string) *string {
	return &s
}
