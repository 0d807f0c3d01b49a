package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger. Every line is also captured by the
// global LogBuffer so operators can follow replace progress over HTTP.
func Setup(level, format string) {
	SetupWithOutput(os.Stdout, level, format)
}

// SetupWithOutput is Setup with an explicit destination
func SetupWithOutput(out io.Writer, level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var base io.Writer = out
	if strings.ToLower(format) == "console" {
		base = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	// The buffer always receives raw JSON, the base writer may reformat it
	output := zerolog.MultiLevelWriter(base, NewLogBufferWriter(GetBuffer()))

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns a logger with the given component name
func Get(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
