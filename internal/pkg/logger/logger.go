package logger

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"atlas-travel-pipeline/internal/config"
)

type Fields map[string]interface{}

// Logger wraps logrus with key/value convenience methods and a structured
// service-call log helper used across all provider adapters.
type Logger struct {
	log *logrus.Logger
}

type Entry struct {
	entry *logrus.Entry
}

func New(cfg config.LogConfig) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	switch cfg.Output {
	case "file":
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	case "stderr":
		log.SetOutput(os.Stderr)
	default:
		log.SetOutput(os.Stdout)
	}

	return &Logger{log: log}, nil
}

// NewTestLogger returns a logger that discards output unless the test fails
// with -v, keeping test runs quiet.
func NewTestLogger(t *testing.T) *Logger {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.DebugLevel)
	return &Logger{log: log}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairsToFields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairsToFields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairsToFields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairsToFields(keysAndValues)).Error(msg)
}

func (l *Logger) WithError(err error) *Entry {
	return &Entry{entry: l.log.WithError(err)}
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{entry: l.log.WithFields(logrus.Fields(fields))}
}

// LogService records one call to an internal or external service with its
// duration and outcome, in a single structured line.
func (l *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := l.log.WithFields(logrus.Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	if err != nil {
		entry.WithError(err).Error("service call failed")
		return
	}
	entry.Info("service call completed")
}

func (e *Entry) Debug(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(pairsToFields(keysAndValues)).Debug(msg)
}

func (e *Entry) Info(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(pairsToFields(keysAndValues)).Info(msg)
}

func (e *Entry) Warn(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(pairsToFields(keysAndValues)).Warn(msg)
}

func (e *Entry) Error(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(pairsToFields(keysAndValues)).Error(msg)
}

func pairsToFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
