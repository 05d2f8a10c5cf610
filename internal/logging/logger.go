package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kyleking/text2sql-router/internal/config"
)

const (
	logDirPerm  = 0o755
	logFilePerm = 0o644
)

// Logger provides structured logging on top of a logrus entry
type Logger struct {
	entry *logrus.Entry
	file  *os.File
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	loggerOnce   sync.Once
)

// InitializeLogger initializes the global logger with the given configuration
func InitializeLogger(cfg config.LoggingConfig) error {
	var err error

	loggerOnce.Do(func() {
		var logger *Logger

		logger, err = NewLogger(cfg)
		if err == nil {
			SetLogger(logger)
		}
	})

	return err
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	var (
		output io.Writer
		file   *os.File
	)

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		path := config.ExpandPath(cfg.File)
		if err := os.MkdirAll(filepath.Dir(path), logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		file = f
		output = f
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := New(output, cfg.Level, cfg.Format)
	logger.entry.Logger.SetReportCaller(cfg.AddSource)
	logger.file = file

	return logger, nil
}

// New builds a logger writing to w. Unknown levels fall back to info.
func New(w io.Writer, level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(parseLogLevel(level))

	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
			DisableColors:   true,
		})
	}

	return &Logger{entry: logrus.NewEntry(base)}
}

// parseLogLevel parses a string log level into a logrus level
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Level returns the active level name.
func (l *Logger) Level() string {
	return l.entry.Logger.GetLevel().String()
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), file: l.file}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields)), file: l.file}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return &Logger{entry: l.entry.WithError(err), file: l.file}
}

func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

func (l *Logger) Infof(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) ErrorWithErr(message string, err error) {
	l.WithError(err).entry.Error(message)
}

// Writer returns a pipe that logs each line at info level; callers must close it.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.Writer()
}

// Close closes the logger and any associated resources
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}

	return nil
}

// SetLogger replaces the global logger.
func SetLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()

	globalLogger = logger
}

// GetLogger returns the global logger, falling back to info-level text on stderr
func GetLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()

	if logger == nil {
		return SetupFallbackLogger()
	}

	return logger
}

// SetupFallbackLogger sets up a basic logger for cases where configuration fails
func SetupFallbackLogger() *Logger {
	logger := New(os.Stderr, "info", "text")
	SetLogger(logger)

	return logger
}

func Debug(message string) {
	GetLogger().Debug(message)
}

func Debugf(format string, args ...any) {
	GetLogger().Debugf(format, args...)
}

func Info(message string) {
	GetLogger().Info(message)
}

func Infof(format string, args ...any) {
	GetLogger().Infof(format, args...)
}

func Warn(message string) {
	GetLogger().Warn(message)
}

func Warnf(format string, args ...any) {
	GetLogger().Warnf(format, args...)
}

func Error(message string) {
	GetLogger().Error(message)
}

func Errorf(format string, args ...any) {
	GetLogger().Errorf(format, args...)
}

// WithField adds a field to the global logger context
func WithField(key string, value any) *Logger { return GetLogger().WithField(key, value) }

// WithFields adds multiple fields to the global logger context
func WithFields(fields map[string]any) *Logger { return GetLogger().WithFields(fields) }

// WithError adds an error to the global logger context
func WithError(err error) *Logger { return GetLogger().WithError(err) }

// Track runs fn and logs its duration and outcome under the operation name
func Track(logger *Logger, operation string, fn func() error) error {
	log := logger.WithField("operation", operation)
	log.Debug("Starting operation")

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if err != nil {
		log.WithField("duration", duration).ErrorWithErr("Operation failed", err)
	} else {
		log.WithField("duration", duration).Debug("Operation completed successfully")
	}

	return err
}
