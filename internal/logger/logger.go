package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" (default) or "json"
	File   string `yaml:"file"`
}

var (
	mu sync.RWMutex

	// std is the process-wide logger used by the Log* helpers.
	// Until Configure is called only warnings and errors are printed.
	std = newLogrus(os.Stdout, "text", logrus.WarnLevel)

	// startup ignores the configured level.
	startup = newLogrus(os.Stdout, "text", logrus.InfoLevel)
)

func newLogrus(out io.Writer, format string, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	if strings.ToLower(format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// ParseLevel maps a configured level name onto logrus, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelWarn, "warning":
		return logrus.WarnLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Configure installs the global logger according to config.
// If the log file cannot be opened the logger falls back to stdout.
func Configure(config *LoggingConfig) {
	var output io.Writer = os.Stdout
	var openErr error
	if config.File != "" {
		// Use 0600 permissions (owner read/write only) for security
		f, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			openErr = err
		} else {
			output = f
		}
	}

	l := newLogrus(output, config.Format, ParseLevel(config.Level))

	mu.Lock()
	std = l
	startup = newLogrus(output, config.Format, logrus.InfoLevel)
	mu.Unlock()

	if openErr != nil {
		LogError("Failed to open log file %s: %v", config.File, openErr)
	}
}

// SetOutput redirects all log output; used by tests and the shell.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
	startup.SetOutput(w)
}

func current() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	mu.RLock()
	l := startup
	mu.RUnlock()
	l.Infof(format, args...)
}

func LogError(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

func LogWarn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

func LogInfo(format string, args ...interface{}) {
	current().Infof(format, args...)
}

func LogDebug(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

func LogTrace(format string, args ...interface{}) {
	current().Tracef(format, args...)
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return current().IsLevelEnabled(logrus.TraceLevel)
}
