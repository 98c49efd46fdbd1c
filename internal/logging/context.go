package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	tenantIDKey ctxKey = iota
	flowIDKey
	correspondentKey
)

// WithTenantID returns a context with the tenant ID set.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// WithFlowID returns a context with the flow ID set.
func WithFlowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowIDKey, id)
}

// WithCorrespondent returns a context with the correspondent ID set.
func WithCorrespondent(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correspondentKey, id)
}

// TenantID extracts the tenant ID from the context, or "" if absent.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// FlowID extracts the flow ID from the context, or "" if absent.
func FlowID(ctx context.Context) string {
	v, _ := ctx.Value(flowIDKey).(string)
	return v
}

// Correspondent extracts the correspondent ID from the context, or "" if absent.
func Correspondent(ctx context.Context) string {
	v, _ := ctx.Value(correspondentKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, tenantID, flowID, correspondent string) context.Context {
	ctx = WithTenantID(ctx, tenantID)
	ctx = WithFlowID(ctx, flowID)
	ctx = WithCorrespondent(ctx, correspondent)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if tID := TenantID(ctx); tID != "" {
		logger = logger.With(slog.String("tenant_id", tID))
	}
	if fID := FlowID(ctx); fID != "" {
		logger = logger.With(slog.String("flow_id", fID))
	}
	if c := Correspondent(ctx); c != "" {
		logger = logger.With(slog.String("correspondent", c))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := TenantID(ctx); v != "" {
		r.AddAttrs(slog.String("tenant_id", v))
	}
	if v := FlowID(ctx); v != "" {
		r.AddAttrs(slog.String("flow_id", v))
	}
	if v := Correspondent(ctx); v != "" {
		r.AddAttrs(slog.String("correspondent", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
