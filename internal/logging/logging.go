// Package logging provides the process-wide structured logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger with predefined console settings.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// SetLevel sets the global logging verbosity.
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// For returns a logger enriched with a component name, used so every
// package's log lines are attributable at a glance.
func For(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// ForBackup enriches a logger with the identifying fields of one backup
// invocation.
func ForBackup(component, backupID, mode string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("backup_id", backupID).Str("mode", mode).Logger()
}
