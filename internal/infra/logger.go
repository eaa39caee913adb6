package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs the service logger. Development gets a human-readable
// console writer at debug level; everything else emits JSON at info level so
// worker lifecycle events stay machine-parseable.
func NewLogger(appEnv string) zerolog.Logger {
	var out = zerolog.LevelWriter(zerolog.MultiLevelWriter(os.Stdout))
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "vidforge").
		Logger()
}

// Logger aliases zerolog.Logger so packages outside infra depend on the
// logging contract without importing the third-party module directly.
type Logger = zerolog.Logger
