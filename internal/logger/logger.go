package logger

import (
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
)

// NewFactory builds a leveled logger factory writing to w (stderr if nil).
// Levels are parsed by ParseLevel.
func NewFactory(level string, w io.Writer) *logging.DefaultLoggerFactory {
	if w == nil {
		w = os.Stderr
	}

	f := logging.NewDefaultLoggerFactory()
	f.Writer = w
	f.DefaultLogLevel = ParseLevel(level)
	return f
}

// ParseLevel maps a LOG_LEVEL value to a pion log level. Unknown values,
// including "error" and "prod", map to error.
func ParseLevel(level string) logging.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logging.LogLevelTrace
	case "dev", "development", "debug":
		return logging.LogLevelDebug
	case "info":
		return logging.LogLevelInfo
	case "warn", "warning":
		return logging.LogLevelWarn
	case "off", "disabled", "none":
		return logging.LogLevelDisabled
	default:
		return logging.LogLevelError
	}
}

var discard = &logging.DefaultLoggerFactory{
	Writer:          io.Discard,
	DefaultLogLevel: logging.LogLevelDisabled,
}

// Scoped returns a logger for scope, or a disabled one when f is nil.
func Scoped(f logging.LoggerFactory, scope string) logging.LeveledLogger {
	if f == nil {
		f = discard
	}
	return f.NewLogger(scope)
}
