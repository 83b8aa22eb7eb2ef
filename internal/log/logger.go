// Package log implements structured logging using slog.
package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/hostmon/internal/config"
)

// LevelCritical sits above slog.LevelError and marks conditions an operator
// should look at even when only errors are logged.
const LevelCritical = slog.Level(12)

var (
	mu      sync.Mutex
	closers []io.Closer
)

// Init initializes the global logger based on configuration. Outputs that
// were opened by a previous Init are closed first.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var (
		writers []io.Writer
		opened  []io.Closer
	)

	// Stderr keeps log lines out of the report table on stdout.
	if cfg.Outputs.Console.Enabled {
		writers = append(writers, os.Stderr)
	}

	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
		opened = append(opened, w)
	}

	if cfg.Outputs.Loki.Enabled {
		w, err := createLokiWriter(cfg.Outputs.Loki)
		if err != nil {
			closeAll(opened)
			return fmt.Errorf("failed to create loki output: %w", err)
		}
		writers = append(writers, w)
		opened = append(opened, w)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	handler, err := newHandler(out, cfg.Format, level)
	if err != nil {
		closeAll(opened)
		return err
	}

	slog.SetDefault(slog.New(handler))

	mu.Lock()
	prev := closers
	closers = opened
	mu.Unlock()
	closeAll(prev)

	return nil
}

// Close flushes and closes the outputs opened by Init.
func Close() error {
	mu.Lock()
	prev := closers
	closers = nil
	mu.Unlock()
	return closeAll(prev)
}

// Critical logs msg at LevelCritical on the default logger.
func Critical(msg string, args ...any) {
	slog.Default().Log(context.Background(), LevelCritical, msg, args...)
}

func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", format)
	}
}

// replaceLevel renders LevelCritical as "CRITICAL" instead of "ERROR+4".
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

func createLokiWriter(lc config.LokiOutputConfig) (*LokiWriter, error) {
	if lc.Endpoint == "" {
		return nil, fmt.Errorf("loki output requires 'endpoint' field")
	}
	return NewLokiWriter(LokiConfig{
		Endpoint:      lc.Endpoint,
		Labels:        lc.Labels,
		BatchSize:     lc.BatchSize,
		FlushInterval: lc.BatchTimeout,
	})
}

func closeAll(cs []io.Closer) error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
