// Package logging provides structured logging using Go's slog package.
package logging

import (
	"log/slog"
	"os"
	"time"
)

var defaultLogger *slog.Logger

func init() {
	InitLogger(LevelInfo, FormatJSON)
}

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format represents a log output format.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// InitLogger initializes the global logger with the specified level and format.
func InitLogger(level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return defaultLogger
}

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// DatabaseOpened logs a successful Open, including the resolved page size and
// cache capacity so operators can tell what a running process actually chose.
func DatabaseOpened(path string, pageSize, cacheCapacity int, args ...any) {
	allArgs := []any{
		"path", path,
		"page_size", pageSize,
		"cache_capacity", cacheCapacity,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("database_opened", allArgs...)
}

// DatabaseClosed logs a Close, including the final page count and how many
// pages were dirty and had to be flushed.
func DatabaseClosed(path string, pageCount int, flushed int, args ...any) {
	allArgs := []any{
		"path", path,
		"page_count", pageCount,
		"flushed", flushed,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("database_closed", allArgs...)
}

// PageSplit logs a B-tree node split.
func PageSplit(page uint32, kind string, newPage uint32, args ...any) {
	allArgs := []any{
		"page", page,
		"kind", kind,
		"new_page", newPage,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Debug("page_split", allArgs...)
}

// OverflowChainWritten logs the allocation of an overflow chain for a record
// too large to fit on a single page.
func OverflowChainWritten(firstPage uint32, pages int, totalBytes int, args ...any) {
	allArgs := []any{
		"first_page", firstPage,
		"pages", pages,
		"total_bytes", totalBytes,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Debug("overflow_chain_written", allArgs...)
}

// EngineError logs an operation failure at the engine boundary.
func EngineError(operation string, err error, args ...any) {
	allArgs := []any{
		"operation", operation,
		"error", err.Error(),
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Error("engine_error", allArgs...)
}
