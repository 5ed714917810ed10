// Package logger wraps a process-wide logrus logger.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogConfig defines logging configuration options.
type LogConfig struct {
	Level     logrus.Level
	Output    io.Writer
	Formatter logrus.Formatter
}

var (
	log  *logrus.Logger
	once sync.Once
)

// DefaultConfig returns the default configuration.
func DefaultConfig() LogConfig {
	return LogConfig{
		Level:  logrus.InfoLevel,
		Output: os.Stderr,
		Formatter: &logrus.TextFormatter{
			FullTimestamp: true,
		},
	}
}

// ParseLevel maps a level name to a logrus level, falling back to info.
func ParseLevel(name string) logrus.Level {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// InitLogger initializes the logger. Only the first call has any effect.
func InitLogger(config ...LogConfig) {
	once.Do(func() {
		cfg := DefaultConfig()
		if len(config) > 0 {
			cfg = config[0]
		}

		l := logrus.New()
		l.SetOutput(cfg.Output)
		l.SetFormatter(cfg.Formatter)
		l.SetLevel(cfg.Level)
		log = l
	})
}

// SetLevel changes the level of the initialized logger.
func SetLevel(level logrus.Level) {
	Get().SetLevel(level)
}

// Get returns the underlying logger, initializing it with defaults if needed.
func Get() *logrus.Logger {
	InitLogger()
	return log
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

// Debugf prints a formatted debug-level log message.
func Debugf(format string, args ...interface{}) {
	Get().Debugf(format, args...)
}

// Infof prints a formatted info-level log message.
func Infof(format string, args ...interface{}) {
	Get().Infof(format, args...)
}

// Warnf prints a formatted warn-level log message.
func Warnf(format string, args ...interface{}) {
	Get().Warnf(format, args...)
}

// Errorf prints a formatted error-level log message.
func Errorf(format string, args ...interface{}) {
	Get().Errorf(format, args...)
}
