// Package logger builds the process slog logger and carries it through contexts.
//
// LOG_HANDLER picks the output format (json, text, or the colored dev format) and
// LOG_LEVEL the minimum level.  Attributes that may hold upstream credentials are always
// redacted.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

type ctxKey struct{}

type handler int

const (
	JSONHandler handler = iota
	TextHandler
	DevHandler
)

const (
	DefaultLevel = slog.LevelInfo

	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values are never written.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"authorization": true,
	"secret":        true,
	"token":         true,
}

type Logger interface {
	Debug(msg string, args ...any)
	DebugContext(ctx context.Context, msg string, args ...any)
	Info(msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	Warn(msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	Error(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
	Handler() slog.Handler

	// Trace logs below debug, eg. per-message protocol chatter.
	Trace(msg string, args ...any)
	Level() slog.Level
	With(args ...any) Logger
}

type LoggerOpt func(o *loggerOpts)

type loggerOpts struct {
	writer  io.Writer
	level   slog.Level
	handler handler
}

func WithLoggerLevel(lvl slog.Level) LoggerOpt {
	return func(o *loggerOpts) {
		o.level = lvl
	}
}

func WithLoggerWriter(w io.Writer) LoggerOpt {
	return func(o *loggerOpts) {
		o.writer = w
	}
}

func WithHandler(h handler) LoggerOpt {
	return func(o *loggerOpts) {
		o.handler = h
	}
}

// HandlerFromEnv returns the handler named by LOG_HANDLER, defaulting to the colored dev
// handler.
func HandlerFromEnv() handler {
	switch strings.ToLower(os.Getenv("LOG_HANDLER")) {
	case "json":
		return JSONHandler
	case "txt", "text":
		return TextHandler
	default:
		return DevHandler
	}
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return DefaultLevel
	}
}

// redact hides sensitive attribute values at any group depth.
func redact(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

func newLogger(opts ...LoggerOpt) Logger {
	o := &loggerOpts{
		level:   ParseLevel(os.Getenv("LOG_LEVEL")),
		writer:  os.Stderr,
		handler: HandlerFromEnv(),
	}
	for _, apply := range opts {
		apply(o)
	}

	var h slog.Handler
	switch o.handler {
	case DevHandler:
		h = tint.NewHandler(o.writer, &tint.Options{
			Level:      o.level,
			TimeFormat: "[15:04:05.000]",
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 {
					// 8-bit ANSI colors.  Warn and error keep tint's defaults.
					switch a.Value.Any() {
					case LevelTrace:
						return tint.Attr(13, slog.String(a.Key, "TRC"))
					case LevelDebug:
						return tint.Attr(3, slog.String(a.Key, "DBG"))
					case LevelInfo:
						return tint.Attr(14, slog.String(a.Key, "INF"))
					}
				}
				return redact(a)
			},
		})
	default:
		hopts := &slog.HandlerOptions{
			Level: o.level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 && a.Value.Any() == LevelTrace {
					return slog.String(a.Key, "TRACE")
				}
				return redact(a)
			},
		}
		if o.handler == TextHandler {
			h = slog.NewTextHandler(o.writer, hopts)
		} else {
			h = slog.NewJSONHandler(o.writer, hopts)
		}
	}

	return &logger{Logger: slog.New(h), level: o.level}
}

// StdlibLogger returns the logger stored in ctx, or a new logger built from opts and the
// environment.
func StdlibLogger(ctx context.Context, opts ...LoggerOpt) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return newLogger(opts...)
}

func VoidLogger() Logger {
	return newLogger(WithLoggerWriter(io.Discard))
}

func WithStdlib(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

type logger struct {
	*slog.Logger
	level slog.Level
}

func (l *logger) Level() slog.Level {
	return l.level
}

func (l *logger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	return &logger{Logger: l.Logger.With(args...), level: l.level}
}

func (l *logger) Trace(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelTrace, msg, args...)
}
