package mlog

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, "debug" "info" "warn" "error". Default is "info".
	Level string `yaml:"level"`

	// File that logger will be writing into. Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if len(lc.Level) > 0 {
		var ok bool
		lvl, ok = parseLevel(lc.Level)
		if !ok {
			return nil, fmt.Errorf("invalid log level [%s]", lc.Level)
		}
	}

	out := zapcore.Lock(os.Stderr)
	if lf := lc.File; len(lf) > 0 {
		f, err := os.OpenFile(lf, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	}

	if lc.Production {
		return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), out, lvl)), nil
	}
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), out, lvl)), nil
}

func parseLevel(s string) (zapcore.Level, bool) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, true
	case "", "info":
		return zapcore.InfoLevel, true
	case "warn":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return 0, false
	}
}

var (
	stderr = zapcore.Lock(os.Stderr)

	lg = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		stderr,
		zap.InfoLevel,
	))
	s = lg.Sugar()

	m sync.Mutex
)

// L returns the global logger. It is mainly used before the user
// configured logger is ready.
func L() *zap.Logger {
	m.Lock()
	defer m.Unlock()
	return lg
}

// SetLevel sets the global logger's level.
func SetLevel(l zapcore.Level) {
	m.Lock()
	defer m.Unlock()
	lg = lg.WithOptions(zap.IncreaseLevel(l))
	s = lg.Sugar()
}

// S returns the global logger's sugar.
func S() *zap.SugaredLogger {
	m.Lock()
	defer m.Unlock()
	return s
}
