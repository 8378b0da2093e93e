// Package logging wraps zap behind a small interface, the way azcopy's
// common.ILogger hides its logging backend from call sites — here the
// backend is go.uber.org/zap instead of azcopy's custom syslog writer.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the narrow interface the rest of the module depends on.
type Logger interface {
	Debug(msg string, fields ...zapcore.Field)
	Info(msg string, fields ...zapcore.Field)
	Warn(msg string, fields ...zapcore.Field)
	Error(msg string, fields ...zapcore.Field)
	With(fields ...zapcore.Field) Logger
	Sync() error
}

type zapLogger struct{ z *zap.Logger }

func (l *zapLogger) Debug(msg string, fields ...zapcore.Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zapcore.Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zapcore.Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zapcore.Field) { l.z.Error(msg, fields...) }
func (l *zapLogger) With(fields ...zapcore.Field) Logger       { return &zapLogger{z: l.z.With(fields...)} }
func (l *zapLogger) Sync() error                               { return l.z.Sync() }

// New builds a console-encoded logger writing to stderr at the given
// level. verbose enables debug-level output.
func New(verbose bool) Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), level)
	return &zapLogger{z: zap.New(core)}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() Logger { return &zapLogger{z: zap.NewNop()} }

// String/Int/etc re-exported so call sites don't need a direct zap import.
var (
	String = zap.String
	Int    = zap.Int
	Int64  = zap.Int64
	Err    = zap.Error
	Bool   = zap.Bool
)
