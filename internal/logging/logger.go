// Package logging wraps logrus with the levels and structured events dbvault emits.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel is the operator-facing verbosity
type LogLevel string

const (
	LogLevelQuiet   LogLevel = "quiet"   // errors only
	LogLevelNormal  LogLevel = "normal"  // operation outcomes
	LogLevelVerbose LogLevel = "verbose" // plus SQL and per-table progress
	LogLevelDebug   LogLevel = "debug"   // everything
)

var logrusLevels = map[LogLevel]logrus.Level{
	LogLevelQuiet:   logrus.ErrorLevel,
	LogLevelNormal:  logrus.InfoLevel,
	LogLevelVerbose: logrus.DebugLevel,
	LogLevelDebug:   logrus.TraceLevel,
}

func toLogrusLevel(level LogLevel) logrus.Level {
	if l, ok := logrusLevels[level]; ok {
		return l
	}
	return logrus.InfoLevel
}

const timestampLayout = "2006-01-02 15:04:05"

type contextKey struct{}

// Logger is a logrus logger plus the dbvault event helpers
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config selects level, format and destinations
type Config struct {
	Level      LogLevel
	Output     io.Writer // default stderr
	Format     string    // "text" or "json"
	ShowCaller bool
	LogFile    string // appended to in addition to Output
}

func NewLogger(config Config) (*Logger, error) {
	if config.Level == "" {
		config.Level = LogLevelNormal
	}

	var out io.Writer = os.Stderr
	if config.Output != nil {
		out = config.Output
	}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		out = io.MultiWriter(out, file)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(toLogrusLevel(config.Level))
	logger.SetFormatter(newFormatter(config))
	logger.SetReportCaller(config.ShowCaller)

	return &Logger{logger: logger, level: config.Level}, nil
}

func newFormatter(config Config) logrus.Formatter {
	if config.Format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}

	text := &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampLayout}
	if config.ShowCaller {
		text.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
			return f.Function + "()", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
	}
	return text
}

// NewDefaultLogger logs text at normal level to stderr
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{})
	return logger
}

// NewNopLogger discards everything
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func (l *Logger) GetLevel() LogLevel { return l.level }

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// WithContext returns an entry tagged with the request id carried by ctx, if any
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if id := GetRequestIDFromContext(ctx); id != "" {
		return entry.WithField("request_id", id)
	}
	return entry
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

func (l *Logger) Debug(msg string)                          { l.logger.Debug(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *Logger) Info(msg string)                           { l.logger.Info(msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logger.Infof(format, args...) }
func (l *Logger) Warn(msg string)                           { l.logger.Warn(msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logger.Warnf(format, args...) }
func (l *Logger) Error(msg string)                          { l.logger.Error(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }

// CreateContextWithRequestID stores a request id for WithContext
func CreateContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
