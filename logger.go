package main

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
}

type logger struct {
	sugar *zap.SugaredLogger
}

// make sure it implements Logger
var _ Logger = (*logger)(nil)

// NewLogger returns a console logger writing to stderr; level is 0 (error)
// through 3 (debug), the same scale Options.DebugLevel produces.
func NewLogger(level int) Logger {
	var zl zapcore.Level
	switch {
	case level >= 3:
		zl = zapcore.DebugLevel
	case level == 2:
		zl = zapcore.InfoLevel
	case level == 1:
		zl = zapcore.WarnLevel
	default:
		zl = zapcore.ErrorLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(zl),
	)
	return &logger{sugar: zap.New(core).Sugar()}
}

// NewNopLogger discards everything; Fatal still exits.
func NewNopLogger() Logger {
	return &logger{sugar: zap.NewNop().Sugar()}
}

// callers historically terminate messages with a newline; zap adds its own
func trim(format string) string {
	return strings.TrimRight(format, "\n")
}

func (l *logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(trim(format), v...)
}

func (l *logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(trim(format), v...)
}

func (l *logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(trim(format), v...)
}

func (l *logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(trim(format), v...)
}

func (l *logger) Fatal(format string, v ...interface{}) {
	l.sugar.Errorf(trim(format), v...)
	_ = l.sugar.Sync()
	os.Exit(1)
}
