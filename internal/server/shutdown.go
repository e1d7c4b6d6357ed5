// Package server drains the relay on shutdown: it raises the termination
// flag, stops accepting, and closes every live connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ShutdownCoordinator owns the shutdown sequence for one relay.
type ShutdownCoordinator struct {
	relay      *Relay
	acceptor   *Acceptor
	listener   io.Closer
	httpServer *http.Server
	log        *slog.Logger

	once     sync.Once
	drained  chan struct{}
	drainErr error
}

// NewShutdownCoordinator wires the coordinator to the components it stops.
// listener and httpServer may be nil.
func NewShutdownCoordinator(relay *Relay, acceptor *Acceptor, listener io.Closer, httpServer *http.Server, logger *slog.Logger) *ShutdownCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownCoordinator{
		relay:      relay,
		acceptor:   acceptor,
		listener:   listener,
		httpServer: httpServer,
		log:        logger,
		drained:    make(chan struct{}),
	}
}

// Shutdown sets the termination flag, stops the listeners, closes every
// tracked connection, and waits for their handlers to exit or ctx to expire.
// Concurrent and repeated calls wait for the same drain.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		go func() {
			s.drainErr = s.drain(ctx)
			close(s.drained)
		}()
	})

	select {
	case <-s.drained:
		return s.drainErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminating reports whether Shutdown has been called.
func (s *ShutdownCoordinator) Terminating() bool {
	return s.relay.Terminated()
}

func (s *ShutdownCoordinator) drain(ctx context.Context) error {
	s.log.Info("initiating relay shutdown")
	s.relay.terminate()

	var errs []error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.log.Warn("error closing listener", "err", err)
			errs = append(errs, err)
		}
	}

	if s.httpServer != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := ShutdownServer(s.httpServer, timeout, s.log); err != nil {
			errs = append(errs, err)
		}
	}

	closed := s.acceptor.CloseAll()
	s.log.Info("closed client connections", "count", closed)

	if err := s.acceptor.Wait(ctx); err != nil {
		s.log.Warn("shutdown timeout reached, some handlers may still be running", "remaining", s.acceptor.Tracked())
		errs = append(errs, err)
		return errors.Join(errs...)
	}

	s.log.Info("relay shutdown completed")
	return errors.Join(errs...)
}
