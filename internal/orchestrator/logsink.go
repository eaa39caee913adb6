package orchestrator

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidforge/internal/domain"
)

// LogSink records leveled log entries against a generation and filters out
// the ephemeral progress noise workers print at high frequency. Store
// failures are absorbed locally: losing one log line must never interrupt
// stream processing.
type LogSink struct {
	logs   domain.LogRepository
	logger zerolog.Logger
}

// NewLogSink creates a log sink writing through the given repository.
func NewLogSink(logs domain.LogRepository, logger zerolog.Logger) *LogSink {
	return &LogSink{logs: logs, logger: logger}
}

// noiseTokens mark progress-bar artifacts (MoviePy and friends redraw these
// many times per second). The filter is deliberately narrow: dropping a real
// error is worse than keeping some noise.
var noiseTokens = []string{"%", "|", "it/s", "chunk:"}

// Noisy reports whether a line looks like an ephemeral progress indicator.
func Noisy(line string) bool {
	for _, tok := range noiseTokens {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}

// Consume filters a raw worker output line and persists it when it carries
// real content.
func (s *LogSink) Consume(ctx context.Context, generationID, line string, level domain.LogLevel) {
	line = strings.TrimSpace(line)
	if line == "" || Noisy(line) {
		return
	}
	s.Record(ctx, generationID, line, level)
}

// Record appends a log entry unconditionally (no noise filtering). Used for
// the orchestrator's own lifecycle messages.
func (s *LogSink) Record(ctx context.Context, generationID, message string, level domain.LogLevel) {
	entry := &domain.LogEntry{
		ID:           uuid.NewString(),
		GenerationID: generationID,
		Message:      message,
		Level:        level,
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("generation_id", generationID).Msg("append log entry failed")
	}
}
