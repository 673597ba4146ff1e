package middleware

import (
	"context"

	"github.com/xraph/courier/envelope"
)

// Handler is the terminal function that dispatches the envelope.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the envelope being executed, and the next handler to
// call. Middleware must call next unless it short-circuits on error.
type Middleware func(ctx context.Context, env *envelope.Envelope, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, env *envelope.Envelope, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, env, prev)
			}
		}
		return h(ctx)
	}
}
