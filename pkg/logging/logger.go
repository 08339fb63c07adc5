package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with service metadata and key-value helpers. It is
// passed explicitly to the components that log; nothing in this repo reaches
// for a package-level logger.
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
}

// Config holds logging configuration
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
}

// NewLogger creates a new structured logger
func NewLogger(config Config) (*Logger, error) {
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}
	if config.ServiceName == "" {
		config.ServiceName = "auditlane"
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	return &Logger{
		Logger:      logger,
		serviceName: config.ServiceName,
		version:     config.Version,
	}, nil
}

// Entry is a contextual logger. Unlike a raw *logrus.Entry, whose variadic
// log methods fmt.Sprint-concatenate their arguments into the message, an
// Entry keeps the key-value helpers so trailing pairs always land as
// structured fields.
type Entry struct {
	entry *logrus.Entry
}

func (l *Logger) serviceFields() logrus.Fields {
	fields := logrus.Fields{"service": l.serviceName}
	if l.version != "" {
		fields["version"] = l.version
	}
	return fields
}

// WithFields creates an entry with the service fields plus the given ones
func (l *Logger) WithFields(fields logrus.Fields) *Entry {
	base := l.serviceFields()
	for k, v := range fields {
		base[k] = v
	}
	return &Entry{entry: l.Logger.WithFields(base)}
}

// WithComponent creates an entry tagged with the emitting component
func (l *Logger) WithComponent(component string) *Entry {
	return l.WithFields(logrus.Fields{"component": component})
}

// WithOperation creates an entry tagged with the running operation
func (l *Logger) WithOperation(operation string) *Entry {
	return l.WithFields(logrus.Fields{"operation": operation})
}

// WithError creates an entry carrying the error and its concrete type
func (l *Logger) WithError(err error) *Entry {
	return l.WithFields(logrus.Fields{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(nil).Info(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(nil).Warn(msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(nil).Error(msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(nil).Debug(msg, keysAndValues...)
}

// WithField adds one field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{entry: e.entry.WithField(key, value)}
}

// WithFields adds fields to the entry
func (e *Entry) WithFields(fields logrus.Fields) *Entry {
	return &Entry{entry: e.entry.WithFields(fields)}
}

// WithError adds the error and its concrete type to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithFields(logrus.Fields{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

// Info logs an info message with key-value pairs
func (e *Entry) Info(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(parseKeysAndValues(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (e *Entry) Warn(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(parseKeysAndValues(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (e *Entry) Error(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(parseKeysAndValues(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (e *Entry) Debug(msg string, keysAndValues ...interface{}) {
	e.entry.WithFields(parseKeysAndValues(keysAndValues)).Debug(msg)
}

func parseKeysAndValues(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
