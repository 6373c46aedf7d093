package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/foundry/pkgfs/internal/config"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// New creates a new zerolog.Logger writing JSON to the given writer.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// FromConfig builds a logger at the configured level. When a log file is
// set, output goes to a size-rotated file instead of stdout.
func FromConfig(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parsing log level: %w", err)
		}
		level = parsed
	}

	out, err := output(cfg)
	if err != nil {
		return zerolog.Nop(), err
	}
	return New(out).Level(level), nil
}

func output(cfg config.LoggingConfig) (io.Writer, error) {
	if cfg.File == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// LogRequest logs an HTTP request with standard fields.
func LogRequest(logger zerolog.Logger, ctx context.Context, method, path string, status int, size int64, latency time.Duration) {
	logger.Info().
		Str("request_id", RequestID(ctx)).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Int64("size", size).
		Dur("latency", latency).
		Msg("request")
}
