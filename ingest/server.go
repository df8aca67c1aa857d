package ingest

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultShutdownTimeout = 10 * time.Second

type ServerConfig struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
}

// Server runs the http listener until its context is cancelled.
type Server struct {
	srv    *http.Server
	addr   net.Addr
	errors chan error
	done   sync.WaitGroup
}

// NewServer binds the listen address and starts serving. Bind failures are
// returned directly.
func NewServer(ctx context.Context, conf ServerConfig) (*Server, error) {
	if conf.ShutdownTimeout <= 0 {
		conf.ShutdownTimeout = DefaultShutdownTimeout
	}
	ln, err := net.Listen("tcp", conf.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", conf.Addr)
	}
	s := &Server{
		srv:    &http.Server{Handler: conf.Handler, ReadHeaderTimeout: 10 * time.Second},
		addr:   ln.Addr(),
		errors: make(chan error, 1),
	}

	// run server
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		err := s.srv.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			s.errors <- err
		}
	}()

	// shut down on ctx cancel
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
			s.srv.Close()
		}
	}()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Wait for server to finish
func (s *Server) Wait() {
	s.done.Wait()
}

// The channel returned by Errors is pushed fatal errors
func (s *Server) Errors() <-chan error {
	return s.errors
}
