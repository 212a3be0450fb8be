package version

import (
	"os"
	"strings"
)

// Version is set at build time with -ldflags "-X ...version.Version=1.2.3".
var Version = "dev"

// Load prefers a VERSION file next to the binary over the build-time value.
func Load(path string) string {
	if b, err := os.ReadFile(path); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return v
		}
	}
	return Version
}
