package middleware

import (
	"context"
	"time"

	"github.com/xraph/courier/envelope"
)

// Deadline returns middleware that bounds the handler context by the
// envelope's DeliverBy. Envelopes without DeliverBy run unbounded.
func Deadline() Middleware {
	return func(ctx context.Context, env *envelope.Envelope, next Handler) error {
		if env.DeliverBy == nil {
			return next(ctx)
		}
		ctx, cancel := context.WithDeadline(ctx, *env.DeliverBy)
		defer cancel()
		return next(ctx)
	}
}

// Timeout returns middleware that cancels every execution after d. A
// non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *envelope.Envelope, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
