package util

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrShutdownTimeout = errors.New("graceful shutdown timed out")

// GracefulShutdown waits for the context to close and then calls the shutdown function in a blocking fashion.
// If the shutdown function does not complete within the timeout, the function returns early with ErrShutdownTimeout.
func GracefulShutdown(ctx context.Context, handleShutdown func(), timeout time.Duration) error {
	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		handleShutdown()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		log.Info().Msg("graceful shutdown complete")
		return nil
	case <-timer.C:
		log.Warn().Dur("timeout", timeout).Msg("graceful shutdown timed out")
		return ErrShutdownTimeout
	}
}
