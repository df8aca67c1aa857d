package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// HandleSignal cancels ctx on SIGINT or SIGTERM. SIGHUP calls hangup
// instead, if set.
func HandleSignal(ctx context.Context, cancel context.CancelFunc, hangup func()) {
	// Set up channel on which to send signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	c := make(chan os.Signal, 1)
	signal.Notify(c,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM)

	go func() {
		defer signal.Stop(c)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-c:
				log.Info().Msgf("caught signal %s", s)
				if s == syscall.SIGHUP {
					if hangup != nil {
						hangup()
					}
					continue
				}
				cancel()
			}
		}
	}()
}
