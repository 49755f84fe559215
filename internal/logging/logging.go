// Package logging builds the process slog logger. Every record at INFO or
// above is also forwarded to an event sink so operators can follow the
// orchestrator live.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kanaz606/auto-geo/internal/events"
)

// ModuleKey is the attribute naming the emitting component
const ModuleKey = "module"

// Sink receives broadcast events
type Sink interface {
	Publish(events.Event)
}

// New returns a text logger writing to w and teeing into sink. sink may be nil.
func New(w io.Writer, level slog.Level, sink Sink) *slog.Logger {
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewHandler(base, sink))
}

// Module returns a child logger tagged with the component name
func Module(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(ModuleKey, name)
}

// ParseLevel maps a config string to a slog level, defaulting to INFO
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

// Handler forwards records to next and broadcasts INFO+ records to sink
type Handler struct {
	next   slog.Handler
	sink   Sink
	module string
	attrs  []slog.Attr
}

// NewHandler wraps next
func NewHandler(next slog.Handler, sink Sink) *Handler {
	return &Handler{next: next, sink: sink}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)
	if h.sink != nil && r.Level >= slog.LevelInfo {
		h.sink.Publish(h.event(r))
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == ModuleKey {
			clone.module = a.Value.String()
			continue
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}

func (h *Handler) event(r slog.Record) events.Event {
	module := h.module
	var b strings.Builder
	b.WriteString(r.Message)

	write := func(a slog.Attr) {
		if a.Key == ModuleKey {
			module = a.Value.String()
			return
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	return events.Event{
		Time:    r.Time,
		Level:   r.Level.String(),
		Module:  module,
		Message: b.String(),
	}
}
