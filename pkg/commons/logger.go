// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package commons

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract every component receives through its
// constructor. It mirrors zap's sugared surface so call sites can pick
// plain, printf or key-value style without caring about the sink.
type Logger interface {
	Level() zapcore.Level

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	DPanic(args ...interface{})
	DPanicf(template string, args ...interface{})

	Panic(args ...interface{})
	Panicf(template string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})

	// Benchmark records how long a named function took. Used around hot
	// paths (codec transcode, synthesis round trips).
	Benchmark(functionName string, duration time.Duration)

	// Tracef logs with the request identifier carried by ctx, when present.
	Tracef(ctx context.Context, format string, args ...interface{})

	Sync() error
}

type requestIDKey struct{}

// WithRequestID returns a context carrying a request identifier that
// Tracef picks up on every line.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request identifier from ctx, empty when unset.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

type applicationLogger struct {
	sugar *zap.SugaredLogger
	level zapcore.Level
}

// LoggerOptions controls sink selection for NewApplicationLogger.
type LoggerOptions struct {
	ServiceName string
	Level       string // debug, info, warn, error
	Production  bool   // JSON + rotating file when true, console otherwise
	Directory   string // log directory for production sinks, default "logs"
}

// NewApplicationLogger builds the process logger. Development gets a colored
// console encoder on stderr; production gets JSON teed to stdout and a
// size-rotated file managed by lumberjack.
func NewApplicationLogger(opts LoggerOptions) (Logger, error) {
	level := parseLevel(opts.Level)

	var core zapcore.Core
	if opts.Production {
		dir := opts.Directory
		if dir == "" {
			dir = "logs"
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, opts.ServiceName+".log"),
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc := zapcore.NewJSONEncoder(encCfg)
		core = zapcore.NewTee(
			zapcore.NewCore(enc, zapcore.AddSync(rotator), level),
			zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level),
		)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc := zapcore.NewConsoleEncoder(encCfg)
		core = zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level)
	}

	base := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.Fields(zap.String("service", opts.ServiceName)),
	)
	return &applicationLogger{sugar: base.Sugar(), level: level}, nil
}

// NewNopLogger returns a Logger that discards everything. Intended for tests
// and for optional components constructed without a configured logger.
func NewNopLogger() Logger {
	return &applicationLogger{sugar: zap.NewNop().Sugar(), level: zapcore.InfoLevel}
}

func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func (l *applicationLogger) Level() zapcore.Level { return l.level }

func (l *applicationLogger) Debug(args ...interface{})              { l.sugar.Debug(args...) }
func (l *applicationLogger) Debugf(t string, args ...interface{})   { l.sugar.Debugf(t, args...) }
func (l *applicationLogger) Debugw(m string, kv ...interface{})     { l.sugar.Debugw(m, kv...) }
func (l *applicationLogger) Info(args ...interface{})               { l.sugar.Info(args...) }
func (l *applicationLogger) Infof(t string, args ...interface{})    { l.sugar.Infof(t, args...) }
func (l *applicationLogger) Infow(m string, kv ...interface{})      { l.sugar.Infow(m, kv...) }
func (l *applicationLogger) Warn(args ...interface{})               { l.sugar.Warn(args...) }
func (l *applicationLogger) Warnf(t string, args ...interface{})    { l.sugar.Warnf(t, args...) }
func (l *applicationLogger) Warnw(m string, kv ...interface{})      { l.sugar.Warnw(m, kv...) }
func (l *applicationLogger) Error(args ...interface{})              { l.sugar.Error(args...) }
func (l *applicationLogger) Errorf(t string, args ...interface{})   { l.sugar.Errorf(t, args...) }
func (l *applicationLogger) Errorw(m string, kv ...interface{})     { l.sugar.Errorw(m, kv...) }
func (l *applicationLogger) DPanic(args ...interface{})             { l.sugar.DPanic(args...) }
func (l *applicationLogger) DPanicf(t string, args ...interface{})  { l.sugar.DPanicf(t, args...) }
func (l *applicationLogger) Panic(args ...interface{})              { l.sugar.Panic(args...) }
func (l *applicationLogger) Panicf(t string, args ...interface{})   { l.sugar.Panicf(t, args...) }
func (l *applicationLogger) Fatal(args ...interface{})              { l.sugar.Fatal(args...) }
func (l *applicationLogger) Fatalf(t string, args ...interface{})   { l.sugar.Fatalf(t, args...) }

func (l *applicationLogger) Benchmark(functionName string, duration time.Duration) {
	l.sugar.Infow("benchmark", "function", functionName, "duration_ms", duration.Milliseconds())
}

func (l *applicationLogger) Tracef(ctx context.Context, format string, args ...interface{}) {
	if id := RequestID(ctx); id != "" {
		l.sugar.With("request_id", id).Infof(format, args...)
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *applicationLogger) Sync() error { return l.sugar.Sync() }
