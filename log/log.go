// Package log wraps zerolog with scoped loggers and context propagation.
package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

//nolint:gochecknoglobals
var global = &Logger{lg: zerolog.Nop()}

// Logger is a scoped structured logger.
type Logger struct {
	lg zerolog.Logger
}

// InitGlobals configures the process-wide logger and returns it.
func InitGlobals(level zerolog.Level, json, noColor bool) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var lg zerolog.Logger
	if json {
		lg = zerolog.New(os.Stderr)
	} else {
		lg = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: "15:04:05.000",
		})
	}

	global = &Logger{lg: lg.Level(level).With().Timestamp().Logger()}

	return global
}

// New returns a logger scoped by the component name.
func New(scope string) *Logger {
	return &Logger{lg: global.lg.With().Str("s", scope).Logger()}
}

// Ctx returns the logger stored in ctx, or the global logger.
func Ctx(ctx context.Context) *Logger {
	if lg, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return lg
	}

	return global
}

// WithContext returns a copy of ctx carrying the logger.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Field attaches a typed attribute to a logger.
type Field func(zerolog.Context) zerolog.Context

// NS is the namespace field.
func NS(db, coll string) Field {
	ns := db
	if coll != "" {
		ns = db + "." + coll
	}

	return func(c zerolog.Context) zerolog.Context { return c.Str("ns", ns) }
}

// Count is the document count field.
func Count(v int64) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Int64("count", v) }
}

// Size is the byte size field.
func Size(v uint64) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Uint64("size", v) }
}

// Elapsed is the duration field.
func Elapsed(d time.Duration) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Dur("elapsed", d) }
}

// Int64 is a generic int64 field.
func Int64(key string, v int64) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Int64(key, v) }
}

// Str is a generic string field.
func Str(key, v string) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Str(key, v) }
}

// With returns a logger with the fields attached.
func (l *Logger) With(fields ...Field) *Logger {
	c := l.lg.With()
	for _, f := range fields {
		c = f(c)
	}

	return &Logger{lg: c.Logger()}
}

func (l *Logger) Trace(msg string) {
	l.lg.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, vals ...any) {
	l.lg.Trace().Msgf(format, vals...)
}

func (l *Logger) Debug(msg string) {
	l.lg.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, vals ...any) {
	l.lg.Debug().Msgf(format, vals...)
}

func (l *Logger) Info(msg string) {
	l.lg.Info().Msg(msg)
}

func (l *Logger) Infof(format string, vals ...any) {
	l.lg.Info().Msgf(format, vals...)
}

func (l *Logger) Warn(msg string) {
	l.lg.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, vals ...any) {
	l.lg.Warn().Msgf(format, vals...)
}

// Error logs msg at error level with the cause attached. err may be nil.
func (l *Logger) Error(err error, msg string) {
	l.lg.Error().Err(err).Msg(msg)
}

// Errorf logs a formatted message at error level with the cause attached.
func (l *Logger) Errorf(err error, format string, vals ...any) {
	l.lg.Error().Err(err).Msgf(format, vals...)
}
