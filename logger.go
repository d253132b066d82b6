package auth

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggerOptions controls the zerolog backed default logger.
type LoggerOptions struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string
	// Pretty switches to the human friendly console writer.
	Pretty bool
	// Output defaults to os.Stderr.
	Output io.Writer
	// Name is attached to every entry as the "logger" field.
	Name string
}

type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger returns a Logger backed by zerolog.
func NewLogger(opts LoggerOptions) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).
		Level(parseLevel(opts.Level)).
		With().
		Timestamp()
	if opts.Name != "" {
		ctx = ctx.Str("logger", opts.Name)
	}

	return &zeroLogger{zl: ctx.Logger()}
}

// FromZerolog adapts an existing zerolog.Logger.
func FromZerolog(zl zerolog.Logger) Logger {
	return &zeroLogger{zl: zl}
}

func (l *zeroLogger) Debug(msg string, args ...any) { l.emit(l.zl.Debug(), msg, args) }
func (l *zeroLogger) Info(msg string, args ...any)  { l.emit(l.zl.Info(), msg, args) }
func (l *zeroLogger) Warn(msg string, args ...any)  { l.emit(l.zl.Warn(), msg, args) }
func (l *zeroLogger) Error(msg string, args ...any) { l.emit(l.zl.Error(), msg, args) }

func (l *zeroLogger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	if len(args) > 0 {
		if len(args)%2 != 0 {
			args = append(args, "<missing>")
		}
		ev = ev.Fields(args)
	}
	ev.Msg(msg)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var defaultLogger = NewLogger(LoggerOptions{Name: "auth"})

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}
