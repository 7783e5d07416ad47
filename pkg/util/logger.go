package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var gLogger *zap.Logger
var gLogLevel zap.AtomicLevel

func init() {
	gLogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = gLogLevel
	cfg.DisableStacktrace = true
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	gLogger = logger
}

func SetLogLevel(lvl zapcore.Level) {
	gLogLevel.SetLevel(lvl)
}

func Debug(msg string, fields ...zap.Field) {
	gLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	gLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	gLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	gLogger.Error(msg, fields...)
}

func SyncLog() {
	_ = gLogger.Sync()
}
