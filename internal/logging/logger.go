package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger provides structured logging for the worker
type Logger struct {
	component string
	entry     *logrus.Entry
}

// NewLogger creates a new logger scoped to a component
func NewLogger(component string) *Logger {
	return newLogger(component, os.Stdout, levelFromEnv())
}

// NewTestLogger writes JSON lines to w at debug level
func NewTestLogger(component string, w io.Writer) *Logger {
	return newLogger(component, w, logrus.DebugLevel)
}

func newLogger(component string, w io.Writer, level logrus.Level) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	return &Logger{
		component: component,
		entry:     base.WithField("component", component),
	}
}

func levelFromEnv() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

// Fatal logs an error message and exits the process
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Fatal(msg)
}

// With returns a child logger carrying the given key-value pairs on every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		component: l.component,
		entry:     l.entry.WithFields(toFields(keysAndValues)),
	}
}

// WithError returns a child logger carrying err under the standard error key
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		component: l.component,
		entry:     l.entry.WithError(err),
	}
}

// Component returns the component name the logger was created with
func (l *Logger) Component() string {
	return l.component
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		value := keysAndValues[i+1]
		if err, isErr := value.(error); isErr && err != nil {
			value = err.Error()
		}
		fields[key] = value
	}
	if len(keysAndValues)%2 == 1 {
		fields["extra"] = keysAndValues[len(keysAndValues)-1]
	}
	return fields
}
