// Package logger provides the configured zerolog logger shared by the
// service and the CLI.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a stdout JSON logger tagged with the service name. The
// level is read from MEMORYLANE_LOG_LEVEL and defaults to info, which
// keeps the per-row parser warnings and hides the debug fetch chatter.
func New(serviceName string) zerolog.Logger {
	level := zerolog.InfoLevel
	if s := strings.ToLower(os.Getenv("MEMORYLANE_LOG_LEVEL")); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
