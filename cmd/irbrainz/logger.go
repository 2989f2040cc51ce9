package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the available logging levels
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

// parseLogLevel converts a string to a LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// setupLogger creates the daemon logger. Output goes to stdout and/or a
// size-rotated log file. The returned closer flushes the file sink.
func setupLogger(level LogLevel, cfg LoggingConfig) (*slog.Logger, io.Closer) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.Stdout {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   ExpandPath(cfg.File),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, rotator)
		closer = rotator
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level.slogLevel()})
	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
