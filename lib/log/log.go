package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Per-subsystem named loggers backed by a single zap core. The level can be
// overridden at startup via MERCATO_LOG_LEVEL, the output file via SetupLogs.

var (
	mu      sync.Mutex
	root    *zap.Logger
	level   zap.AtomicLevel
	loggers = make(map[string]*zap.SugaredLogger)
)

func init() {
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if lvl := os.Getenv("MERCATO_LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(lvl)); err == nil {
			level.SetLevel(parsed)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	root = zap.New(core)
}

// SetupLogs redirects all loggers to a rotated file under dir.
func SetupLogs(dir, name string) {
	mu.Lock()
	defer mu.Unlock()

	w := &lumberjack.Logger{
		Filename:   dir + "/" + name + ".log",
		MaxSize:    100, // MB
		MaxBackups: 5,
		Compress:   true,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		level,
	)
	root = zap.New(core)

	for system, l := range loggers {
		*l = *root.Sugar().Named(system)
	}
}

// Logger returns the named logger for a subsystem.
func Logger(system string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	l, ok := loggers[system]
	if !ok {
		l = root.Sugar().Named(system)
		loggers[system] = l
	}
	return l
}

// SetLogLevel changes the level for all loggers.
func SetLogLevel(lvl string) error {
	parsed, err := zapcore.ParseLevel(strings.ToLower(lvl))
	if err != nil {
		return err
	}
	level.SetLevel(parsed)
	return nil
}
