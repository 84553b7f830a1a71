package logging

import (
	"context"
	"log/slog"

	"github.com/opendrakan/statesync/pkg/core"
)

// ContextProvider returns attributes describing the simulation when a record
// is written, such as the current tick.
type ContextProvider func() []slog.Attr

type clientKey struct{}

// WithClient tags ctx with a client id. Records logged with ctx through a
// ContextHandler carry it as "client".
func WithClient(ctx context.Context, id core.ClientId) context.Context {
	return context.WithValue(ctx, clientKey{}, id)
}

// ClientFromContext returns the id set by WithClient.
func ClientFromContext(ctx context.Context) (core.ClientId, bool) {
	id, ok := ctx.Value(clientKey{}).(core.ClientId)
	return id, ok
}

// ContextHandler adds the provider's attributes and the context's client id
// to every record before passing it on.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler accepts a nil provider.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ClientFromContext(ctx); ok {
		r.AddAttrs(slog.Int("client", int(id)))
	}
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.inner.WithAttrs(attrs), h.provider)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.inner.WithGroup(name), h.provider)
}
