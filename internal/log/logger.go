package log

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Logger is a slog.Logger whose records all carry a component attribute.
type Logger struct {
	*slog.Logger
	component string
}

// componentHandler stamps component onto every record that does not name
// one itself.
type componentHandler struct {
	slog.Handler
	component string
}

func (h componentHandler) Handle(ctx context.Context, r slog.Record) error {
	named := false
	r.Attrs(func(a slog.Attr) bool {
		named = a.Key == FieldComponent
		return !named
	})
	if !named {
		r = r.Clone()
		r.AddAttrs(slog.String(FieldComponent, h.component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return componentHandler{Handler: h.Handler.WithAttrs(attrs), component: h.component}
}

func (h componentHandler) WithGroup(name string) slog.Handler {
	return componentHandler{Handler: h.Handler.WithGroup(name), component: h.component}
}

// New wraps h so every record is tagged with component.
func New(h slog.Handler, component string) *Logger {
	if ch, ok := h.(componentHandler); ok {
		h = ch.Handler
	}
	return &Logger{
		Logger:    slog.New(componentHandler{Handler: h, component: component}),
		component: component,
	}
}

// NewText logs text lines to w at level and above.
func NewText(w io.Writer, level slog.Leveler, component string) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), component)
}

// Default wraps the process-wide slog logger.
func Default(component string) *Logger {
	return New(slog.Default().Handler(), component)
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), component: l.component}
}

// WithComponent keeps the attributes gathered so far and swaps the
// component tag.
func (l *Logger) WithComponent(component string) *Logger {
	return New(l.Handler(), component)
}

func (l *Logger) Component() string {
	return l.component
}

// SetDefault installs l as the slog default, so package-level slog calls
// carry its component too.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
