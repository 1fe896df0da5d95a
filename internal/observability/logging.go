package observability

import (
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	fileSink     io.Writer
	fileSinkOnce sync.Once
)

// NewLogger creates a structured JSON logger.
// Log format: structured JSON to stdout, plus a rotating file when
// SYNTH_LOG_FILE is set. Level defaults to info; set via SYNTH_LOG_LEVEL.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("SYNTH_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	var out io.Writer = os.Stdout
	if sink := logFileSink(); sink != nil {
		out = zerolog.MultiLevelWriter(os.Stdout, sink)
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// logFileSink lazily opens one shared rotating writer for all components.
func logFileSink() io.Writer {
	fileSinkOnce.Do(func() {
		path := os.Getenv("SYNTH_LOG_FILE")
		if path == "" {
			return
		}
		fileSink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    envInt("SYNTH_LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("SYNTH_LOG_MAX_BACKUPS", 5),
			MaxAge:     envInt("SYNTH_LOG_MAX_AGE_DAYS", 14),
			Compress:   true,
		}
	})
	return fileSink
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	// RFC3339 with sub-second precision
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
