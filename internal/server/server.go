// Package server assembles the relay: the TCP acceptor, the optional HTTP
// surface, and the shutdown coordinator that stops them together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// Server is a running relay instance built from a Config.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	relay   *Relay
	origins *OriginPolicy

	listener     Listener
	acceptor     *Acceptor
	httpServer   *http.Server
	httpListener net.Listener
	coordinator  *ShutdownCoordinator

	errs       chan error
	acceptDone chan struct{}
}

// New creates a relay server. Nothing is bound until Start.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()
	metrics := NewMetrics()

	return &Server{
		cfg:        cfg,
		log:        logger,
		metrics:    metrics,
		relay:      NewRelay(logger, metrics),
		origins:    NewOriginPolicy(cfg.AllowedOrigins, logger),
		errs:       make(chan error, 2),
		acceptDone: make(chan struct{}),
	}
}

// Start binds the TCP listener and, when configured, the HTTP listener, then
// serves both in the background. Fatal errors from either are delivered on
// Errors.
func (s *Server) Start() error {
	ln, err := Listen(s.cfg.Addr, s.cfg.TransportOptions())
	if err != nil {
		return err
	}
	s.listener = ln
	s.acceptor = NewAcceptor(ln, s.relay, s.cfg.RoomCount, s.log, s.metrics)

	if s.cfg.HTTPAddr != "" {
		httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpListener = httpLn
		s.httpServer = CreateServer(s.cfg.HTTPAddr, SetupRoutes(s))

		go func() {
			if err := StartServer(s.httpServer, httpLn, s.log); err != nil {
				s.report(fmt.Errorf("http server: %w", err))
			}
		}()
	}

	s.coordinator = NewShutdownCoordinator(s.relay, s.acceptor, ln, s.httpServer, s.log)

	go func() {
		defer close(s.acceptDone)
		if err := s.acceptor.Serve(); err != nil {
			s.report(err)
		}
	}()

	return nil
}

func (s *Server) report(err error) {
	select {
	case s.errs <- err:
	default:
		s.log.Error("dropping server error", "err", err)
	}
}

// Errors delivers fatal listener errors. The process should shut down when
// one arrives.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown runs the shutdown sequence and waits for the accept loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.coordinator == nil {
		return nil
	}

	err := s.coordinator.Shutdown(ctx)

	select {
	case <-s.acceptDone:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// Addr returns the bound TCP address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HTTPAddr returns the bound HTTP address, or "" when the HTTP surface is off.
func (s *Server) HTTPAddr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Relay returns the shared relay state.
func (s *Server) Relay() *Relay {
	return s.relay
}

// Acceptor returns the server's acceptor, or nil before Start.
func (s *Server) Acceptor() *Acceptor {
	return s.acceptor
}

// Metrics returns the server's metric collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
