package logging

import (
	"context"
	"log/slog"
)

// ContextHandler adds request fields stored in the context to every record
// and masks credentials before passing records on.
type ContextHandler struct {
	next     slog.Handler
	redactor *Redactor

	// preset holds keys already attached with WithAttrs.
	preset map[string]bool
}

// NewContextHandler wraps next. A nil redactor disables masking.
func NewContextHandler(next slog.Handler, redactor *Redactor) *ContextHandler {
	return &ContextHandler{next: next, redactor: redactor}
}

// Enabled implements slog.Handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := extractContextFields(ctx)
	if len(fields) == 0 && h.redactor == nil {
		return h.next.Handle(ctx, r)
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	// Explicit attributes win over context fields with the same key.
	explicit := make(map[string]bool, r.NumAttrs()+len(h.preset))
	for k := range h.preset {
		explicit[k] = true
	}
	r.Attrs(func(a slog.Attr) bool {
		explicit[a.Key] = true
		return true
	})
	for i := 0; i+1 < len(fields); i += 2 {
		key := fields[i].(string)
		if !explicit[key] {
			out.AddAttrs(slog.Any(key, fields[i+1]))
		}
	}

	r.Attrs(func(a slog.Attr) bool {
		if h.redactor != nil {
			a = h.redactor.RedactAttr(a)
		}
		out.AddAttrs(a)
		return true
	})

	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.redactor != nil {
		masked := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			masked[i] = h.redactor.RedactAttr(a)
		}
		attrs = masked
	}
	preset := make(map[string]bool, len(h.preset)+len(attrs))
	for k := range h.preset {
		preset[k] = true
	}
	for _, a := range attrs {
		preset[a.Key] = true
	}
	return &ContextHandler{next: h.next.WithAttrs(attrs), redactor: h.redactor, preset: preset}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name), redactor: h.redactor, preset: h.preset}
}
