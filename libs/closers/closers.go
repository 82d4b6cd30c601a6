// Package closers provides a convenience function Panic which closes an io.Closer and panics on error.
package closers

import (
	"context"
	"io"

	"github.com/getsentry/sentry-go"

	"github.com/shinminje20/birdie-buddies-backend/libs/logging"
)

// Panic calls Close() on the specified closer, panicing on error
func Panic(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		panic(err.Error())
	}
}

// Log calls Close() on the specified closer, logging any resulting error
func Log(ctx context.Context, c io.Closer) {
	logger := logging.Logger(ctx, "closers.Log")
	if err := c.Close(); err != nil {
		sentry.CaptureMessage(err.Error())
		logger.Error().Err(err).Msg("failed to close")
	}
}
