// Package logging builds the application's zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and optional file output.
type Config struct {
	Environment string // "production" or anything else for development
	Level       string // debug, info, warn, error
	Format      string // json or console
	File        string // optional path; rotated by lumberjack
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// New returns a logger writing to stdout and, when File is set, to a
// rotating log file.
func New(cfg Config) *zap.Logger {
	var encCfg zapcore.EncoderConfig
	if cfg.Environment == "production" {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	format := cfg.Format
	if format == "" {
		format = "console"
		if cfg.Environment == "production" {
			format = "json"
		}
	}

	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	cores := []zapcore.Core{
		zapcore.NewCore(encoder(format, encCfg, true), zapcore.Lock(os.Stdout), level),
	}
	if cfg.File != "" {
		w := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		// Files always get JSON without colour codes.
		fileCfg := encCfg
		fileCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(w), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Environment != "production" {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...)
}

func encoder(format string, cfg zapcore.EncoderConfig, colour bool) zapcore.Encoder {
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	if colour {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
