// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package redact

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// Handler masks PII before records reach the wrapped handler. The record
// message and string attribute values are redacted as key=value;
// segments, and any attribute whose key is a masked field is replaced
// outright. Groups and map[string]any values are masked recursively.
type Handler struct {
	next slog.Handler
	r    *Redactor
}

// NewHandler wraps next, masking fields with Redaction and Separator.
func NewHandler(next slog.Handler, fields []string) *Handler {
	return &Handler{next: next, r: New(fields, Redaction, Separator)}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.r.Redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.attr(a)
	}
	return &Handler{next: h.next.WithAttrs(masked), r: h.r}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), r: h.r}
}

func (h *Handler) attr(a slog.Attr) slog.Attr {
	if h.r.Has(a.Key) {
		return slog.String(a.Key, h.r.redaction)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.r.Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		masked := make([]slog.Attr, len(group))
		for i, ga := range group {
			masked[i] = h.attr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.String(a.Key, h.r.Redact(x.Error()))
		case map[string]any:
			return slog.Attr{Key: a.Key, Value: slog.GroupValue(h.mapAttrs(x)...)}
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func (h *Handler) mapAttrs(m map[string]any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		attrs = append(attrs, h.attr(slog.Any(k, m[k])))
	}
	return attrs
}
