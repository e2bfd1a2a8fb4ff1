// Package logger wraps logrus with the structured-field helpers the rest of
// the arbiter uses to tag log lines with guid/cur_block context.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // "json" or "text"
	Output     string // "stdout" or a file path
	FilePrefix string
}

// Logger embeds *logrus.Logger so callers can use the familiar Info/Warn/
// Error/Debug methods directly, plus WithField/WithFields for structured
// context.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger from cfg. An empty cfg yields sane defaults (info,
// text, stdout).
func New(cfg Config) (*Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	l.SetLevel(level)

	switch orDefault(cfg.Format, "text") {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	l.SetOutput(out)

	return &Logger{Logger: l}, nil
}

// NewDefault returns an info-level text/stdout logger, convenient for tests
// and small tools. The name argument is not attached to log lines.
func NewDefault(name string) *Logger {
	l, _ := New(Config{})
	return &Logger{Logger: l.Logger}
}

func openOutput(cfg Config) (io.Writer, error) {
	switch {
	case cfg.Output == "" || cfg.Output == "stdout":
		return os.Stdout, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.Output
		if cfg.FilePrefix != "" {
			name = filepath.Join(filepath.Dir(cfg.Output), cfg.FilePrefix+filepath.Base(cfg.Output))
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return io.MultiWriter(os.Stdout, f), nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// WithField returns an entry with a single structured field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns an entry with multiple structured fields attached.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
