package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/courier/envelope"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace. The error
// is retryable; a handler that always panics is dead-lettered once its
// attempts are exhausted.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, env *envelope.Envelope, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("envelope handler panicked",
					slog.String("message_type", env.MessageType),
					slog.String("envelope_id", env.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic handling %s: %v", env.MessageType, r)
			}
		}()
		return next(ctx)
	}
}
