package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/envelope"
)

// Logging returns middleware that logs envelope execution start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, env *envelope.Envelope, next Handler) error {
		logger.Debug("envelope executing",
			slog.String("message_type", env.MessageType),
			slog.String("envelope_id", env.ID.String()),
			slog.Int("attempts", env.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("envelope handler failed",
				slog.String("message_type", env.MessageType),
				slog.String("envelope_id", env.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("envelope handled",
				slog.String("message_type", env.MessageType),
				slog.String("envelope_id", env.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
