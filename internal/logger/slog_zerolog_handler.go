package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlog wraps a zerolog logger in the standard library's structured logging
// interface. The handler shares the zerolog sink and context fields, honors
// the zerolog global level, and flattens slog groups into dot-joined keys.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(slogBridge{zl: zl})
}

type slogBridge struct {
	zl *zerolog.Logger
	// open group prefix, dot-terminated when non-empty
	prefix string
	// attrs accumulated via WithAttrs, keys already prefixed
	fields []slog.Attr
}

func (b slogBridge) Enabled(_ context.Context, lvl slog.Level) bool {
	return levelOf(lvl) >= zerolog.GlobalLevel()
}

func levelOf(lvl slog.Level) zerolog.Level {
	switch {
	case lvl < slog.LevelInfo:
		return zerolog.DebugLevel
	case lvl < slog.LevelWarn:
		return zerolog.InfoLevel
	case lvl < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (b slogBridge) Handle(ctx context.Context, rec slog.Record) error {
	ev := FromContext(ctx, b.zl).WithLevel(levelOf(rec.Level))
	for _, a := range b.fields {
		ev = field(ev, a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = field(ev, b.prefix+a.Key, a.Value)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return b
	}
	out := b
	out.fields = make([]slog.Attr, len(b.fields), len(b.fields)+len(attrs))
	copy(out.fields, b.fields)
	for _, a := range attrs {
		a.Key = b.prefix + a.Key
		out.fields = append(out.fields, a)
	}
	return out
}

func (b slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	out := b
	out.prefix = b.prefix + name + "."
	return out
}

func field(ev *zerolog.Event, key string, v slog.Value) *zerolog.Event {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	case slog.KindGroup:
		for _, ga := range v.Group() {
			ev = field(ev, key+"."+ga.Key, ga.Value)
		}
		return ev
	default:
		return ev.Interface(key, v.Any())
	}
}
