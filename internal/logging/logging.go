// Package logging provides centralized logging configuration for goBanWatch.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *log.Logger
	globalMu     sync.RWMutex

	// logWriter holds the rotating log file (if any) for cleanup
	logWriter   io.WriteCloser
	logWriterMu sync.Mutex
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is one of text, json or logfmt. Defaults to text.
	Format string
	// File is an optional path; when set, logs go to stderr and to this file.
	File string
	// MaxSizeMB is the size at which File is rotated. Default: 10MB
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. Default: 3
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
	// Output overrides stderr as the console writer (used by tests).
	Output io.Writer
}

// Initialize sets up the global logger with the given configuration.
func Initialize(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	formatter, err := parseFormat(cfg.Format)
	if err != nil {
		return err
	}

	var console io.Writer = os.Stderr
	if cfg.Output != nil {
		console = cfg.Output
	}

	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	w := console
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,    // megabytes
			MaxBackups: maxBackups, // number of backups
			MaxAge:     0,          // don't delete old files based on age
			Compress:   cfg.Compress,
		}
		logWriter = lj
		w = io.MultiWriter(console, lj)
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           level,
		Formatter:       formatter,
	})

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	log.SetDefault(logger)
	return nil
}

// Get returns the global logger.
// If Initialize hasn't been called, returns the charm default logger.
func Get() *log.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return log.Default()
	}
	return globalLogger
}

// WithComponent returns a child logger prefixed with the component name.
func WithComponent(component string) *log.Logger {
	return Get().WithPrefix(component)
}

// Close cleans up logging resources (closes the log file if open).
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		return err
	}
	return nil
}

func parseLevel(level string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", level)
	}
}

func parseFormat(format string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("unknown log format %q (expected text, json or logfmt)", format)
	}
}
