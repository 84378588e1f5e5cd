// Package observability contains logging setup and other observability utilities.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/srex-dev/EVY-sub000/pkg/config"
)

// SetupLogger builds a zap.Logger from the provided configuration, sets it as
// the global logger, and redirects the stdlib log package. The caller should
// defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	level := parseLevel(c.Level)
	encoder := buildEncoder(c)

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		cores = append(cores, zapcore.NewCore(encoder, openSink(out, c), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	logger := zap.New(zapcore.NewTee(cores...), opts...)
	zap.ReplaceGlobals(logger)
	// redirect stdlib log to zap at Info level
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

func parseLevel(s string) zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(s) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

func buildEncoder(c config.LogConfig) zapcore.Encoder {
	var encCfg zapcore.EncoderConfig
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	if strings.ToLower(c.Format) == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

// openSink maps an output name to a write syncer. Unknown names are treated
// as file paths, rotated via lumberjack when rotation is enabled.
func openSink(out string, c config.LogConfig) zapcore.WriteSyncer {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}
	if c.Rotation.Enable {
		name := out
		if strings.TrimSpace(c.Rotation.Filename) != "" {
			name = c.Rotation.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   name,
			MaxSize:    atLeast(c.Rotation.MaxSizeMB, 10),
			MaxBackups: atLeast(c.Rotation.MaxBackups, 1),
			MaxAge:     atLeast(c.Rotation.MaxAgeDays, 7),
			Compress:   c.Rotation.Compress,
		})
	}
	if i := strings.LastIndexAny(out, "/\\"); i > 0 {
		_ = os.MkdirAll(out[:i], 0o755)
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// fallback to stderr on failure
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
