package domain

import "time"

// LogLevel enumerates severities for generation log entries.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is one append-only, human-readable log line attached to a
// generation. Entries are never mutated or deleted by the orchestrator.
type LogEntry struct {
	ID           string
	GenerationID string
	Message      string
	Level        LogLevel
	CreatedAt    time.Time
}
