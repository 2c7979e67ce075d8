// Package log is the structured logging facade used throughout the
// engine: a Helper with level filtering and context-scoped logging over a
// zap-backed sink.
package log

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging severity, ordered low to high.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal sink every backend implements: a leveled,
// key-value structured log line.
type Logger interface {
	Log(level Level, keyvals ...any) error
}

// Valuer is a keyval whose value is computed lazily at log time, e.g. a
// timestamp or a request id pulled from context.
type Valuer func(ctx context.Context) any

// Timestamp returns a Valuer that renders time.Now() with the given layout.
func Timestamp(layout string) Valuer {
	return func(_ context.Context) any {
		return time.Now().Format(layout)
	}
}

// zapLogger adapts a *zap.Logger to the Logger interface.
type zapLogger struct {
	z *zap.Logger
}

// NewZapLogger builds a Logger backed by zap, writing JSON lines to w at the
// given minimum level.
func NewZapLogger(w zapcore.WriteSyncer, level Level) Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, toZapLevel(level))
	return &zapLogger{z: zap.New(core)}
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func (l *zapLogger) Log(level Level, keyvals ...any) error {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	msg := ""
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "msg" {
			msg, _ = keyvals[i+1].(string)
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	switch level {
	case LevelDebug:
		l.z.Debug(msg, fields...)
	case LevelInfo:
		l.z.Info(msg, fields...)
	case LevelWarn:
		l.z.Warn(msg, fields...)
	case LevelError:
		l.z.Error(msg, fields...)
	case LevelFatal:
		l.z.Fatal(msg, fields...)
	}
	return nil
}

// DefaultLogger writes INFO+ JSON lines to stderr.
var DefaultLogger Logger = NewZapLogger(zapcore.AddSync(os.Stderr), LevelInfo)

// boundLogger is a Logger with a fixed prefix of keyvals prepended to every
// call, built by With.
type boundLogger struct {
	base   Logger
	prefix []any
}

// With returns a Logger that always prepends the given keyvals (which may
// include Valuers, resolved against context.Background() at call time).
func With(base Logger, keyvals ...any) Logger {
	return &boundLogger{base: base, prefix: keyvals}
}

func (b *boundLogger) Log(level Level, keyvals ...any) error {
	resolved := make([]any, 0, len(b.prefix)+len(keyvals))
	for _, kv := range b.prefix {
		if v, ok := kv.(Valuer); ok {
			resolved = append(resolved, v(context.Background()))
			continue
		}
		resolved = append(resolved, kv)
	}
	resolved = append(resolved, keyvals...)
	return b.base.Log(level, resolved...)
}

// filterLogger drops log lines below a minimum level.
type filterLogger struct {
	base Logger
	min  Level
}

// FilterOption configures NewFilter.
type FilterOption func(*filterLogger)

// FilterLevel sets the minimum level a filtered logger passes through.
func FilterLevel(level Level) FilterOption {
	return func(f *filterLogger) { f.min = level }
}

// NewFilter wraps base so that Log calls below the configured level are
// dropped before reaching it — used to quiet a noisy third-party logger
// adapter (e.g. the embedded index driver) without touching the app's own
// log level.
func NewFilter(base Logger, opts ...FilterOption) Logger {
	f := &filterLogger{base: base, min: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filterLogger) Log(level Level, keyvals ...any) error {
	if level < f.min {
		return nil
	}
	return f.base.Log(level, keyvals...)
}

var current = DefaultLogger

// SetLogger installs l as the package-level default logger used by the
// Debug/Info/Warn/Error/Fatal package functions and NewHelper(GetLogger()).
func SetLogger(l Logger) { current = l }

// GetLogger returns the current package-level default logger.
func GetLogger() Logger { return current }

// Helper is a leveled, formatted convenience wrapper over a Logger, with
// the familiar log.Errorf/log.Debugf call-site shape.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, msg string) {
	_ = h.logger.Log(level, "msg", msg)
}

func (h *Helper) Debug(args ...any)            { h.log(LevelDebug, fmt.Sprint(args...)) }
func (h *Helper) Debugf(f string, args ...any)  { h.log(LevelDebug, fmt.Sprintf(f, args...)) }
func (h *Helper) Info(args ...any)              { h.log(LevelInfo, fmt.Sprint(args...)) }
func (h *Helper) Infof(f string, args ...any)   { h.log(LevelInfo, fmt.Sprintf(f, args...)) }
func (h *Helper) Warn(args ...any)              { h.log(LevelWarn, fmt.Sprint(args...)) }
func (h *Helper) Warnf(f string, args ...any)   { h.log(LevelWarn, fmt.Sprintf(f, args...)) }
func (h *Helper) Error(args ...any)             { h.log(LevelError, fmt.Sprint(args...)) }
func (h *Helper) Errorf(f string, args ...any)  { h.log(LevelError, fmt.Sprintf(f, args...)) }
func (h *Helper) Fatal(args ...any)             { h.log(LevelFatal, fmt.Sprint(args...)); os.Exit(1) }
func (h *Helper) Fatalf(f string, args ...any)  { h.log(LevelFatal, fmt.Sprintf(f, args...)); os.Exit(1) }

// Context returns a Helper for use within ctx. The engine threads a request
// or operation id via context; when present (see WithTraceID) it is bound
// onto every line logged through the returned Helper.
func Context(ctx context.Context) *Helper {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return NewHelper(With(current, "trace", id))
	}
	return NewHelper(current)
}

type traceIDKey struct{}

// WithTraceID binds id onto ctx so subsequent log.Context(ctx) calls tag
// their lines with it.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// Enabled reports whether level would currently be logged by the default
// helper's logger — used to skip expensive message construction.
func Enabled(level Level) bool {
	l := current
	for {
		switch v := l.(type) {
		case *boundLogger:
			l = v.base
		case *filterLogger:
			if level < v.min {
				return false
			}
			l = v.base
		case *zapLogger:
			return v.z.Core().Enabled(toZapLevel(level))
		default:
			return true
		}
	}
}

// Package-level convenience functions bound to the current default logger.
func Debug(args ...any)           { NewHelper(current).Debug(args...) }
func Debugf(f string, a ...any)   { NewHelper(current).Debugf(f, a...) }
func Info(args ...any)            { NewHelper(current).Info(args...) }
func Infof(f string, a ...any)    { NewHelper(current).Infof(f, a...) }
func Warn(args ...any)            { NewHelper(current).Warn(args...) }
func Warnf(f string, a ...any)    { NewHelper(current).Warnf(f, a...) }
func Error(args ...any)           { NewHelper(current).Error(args...) }
func Errorf(f string, a ...any)   { NewHelper(current).Errorf(f, a...) }
func Fatal(args ...any)           { NewHelper(current).Fatal(args...) }
func Fatalf(f string, a ...any)   { NewHelper(current).Fatalf(f, a...) }
