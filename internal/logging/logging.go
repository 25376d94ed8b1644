// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultMaxBytes is the event file size that triggers halving.
const DefaultMaxBytes = 5 << 20

// Config holds logging configuration options.
type Config struct {
	Level    string // debug|info|warn|error
	Format   string // json|console
	File     string // event log path; empty disables it
	MaxBytes int64
}

// New creates a new configured zap logger. When cfg.File is set every
// entry is also appended to that file as one JSON line.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	opts := []zap.Option{zap.AddCaller()}
	if cfg.File != "" {
		maxBytes := cfg.MaxBytes
		if maxBytes <= 0 {
			maxBytes = DefaultMaxBytes
		}
		file, err := OpenHalvingFile(cfg.File, maxBytes)
		if err != nil {
			return nil, err
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), file, zcfg.Level)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := zcfg.Build(opts...)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "swapgate"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Level:  getenv("SWAPGATE_LOG_LEVEL", "info"),
		Format: getenv("SWAPGATE_LOG_FORMAT", "json"),
		File:   os.Getenv("SWAPGATE_LOG_FILE"),
	}
	if v, err := strconv.ParseInt(os.Getenv("SWAPGATE_LOG_MAX_BYTES"), 10, 64); err == nil {
		cfg.MaxBytes = v
	}
	return cfg
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
