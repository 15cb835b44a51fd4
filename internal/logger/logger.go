// Package logger provides the process-wide structured JSON logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var log *slog.Logger
var logLevel slog.Level

func init() {
	// Parse log level from environment variable
	// Supports: debug, info, warn, error (case-insensitive)
	logLevel = slog.LevelInfo // Default
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		switch strings.ToLower(levelStr) {
		case "debug":
			logLevel = slog.LevelDebug
		case "info":
			logLevel = slog.LevelInfo
		case "warn", "warning":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	log = slog.New(handler)

	// Set as default so any code using slog directly gets JSON output
	slog.SetDefault(log)
}

// Debug logs a debug message with structured fields
func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

// Info logs an informational message with structured fields
func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

// Warn logs a warning message with structured fields
func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

// Error logs an error message with structured fields
func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

// Fatal logs an error message and exits with status 1
func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}

// SetOutputForTest redirects log output to a custom writer for testing.
// Returns a cleanup function that restores the original handler.
func SetOutputForTest(w io.Writer) func() {
	originalHandler := log.Handler()
	log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
	return func() {
		log = slog.New(originalHandler)
		slog.SetDefault(log)
	}
}
