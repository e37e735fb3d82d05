package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

func init() {
	Init(os.Getenv("ENVIRONMENT"))
}

// Init rebuilds the package logger. "development" switches to the console
// encoder at debug level; anything else logs JSON at info level.
func Init(environment string) {
	var cfg zap.Config
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	Set(l)
}

// Set replaces the package logger, e.g. with zaptest.NewLogger in tests.
func Set(l *zap.Logger) {
	mu.Lock()
	base = l
	sugar = l.Sugar()
	mu.Unlock()
}

// L returns the structured logger for field-style logging.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithOptions(zap.AddCallerSkip(-1))
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Info(format string, v ...interface{}) {
	s().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	s().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	s().Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	s().Warnf(format, v...)
}

func Sync() {
	_ = s().Sync()
}
