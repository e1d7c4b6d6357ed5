// Package server runs the accept loop that admits relay clients, sends the
// room-count preamble, and tracks every handler it starts so shutdown can
// reach them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Acceptor admits connections into the relay. Handlers it starts are tracked
// until they finish, independently of whether they ever joined a room.
type Acceptor struct {
	listener  Listener
	relay     *Relay
	roomCount int
	log       *slog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	handlers map[*ConnectionHandler]struct{}
	wg       sync.WaitGroup
}

// NewAcceptor creates an Acceptor. listener may be nil when transports are
// only admitted through Admit, as the WebSocket endpoint does.
func NewAcceptor(listener Listener, relay *Relay, roomCount int, logger *slog.Logger, metrics *Metrics) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{
		listener:  listener,
		relay:     relay,
		roomCount: roomCount,
		log:       logger,
		metrics:   metrics,
		handlers:  make(map[*ConnectionHandler]struct{}),
	}
}

// Serve blocks accepting connections. It returns nil once the relay is
// terminating or the listener has been closed, and an error wrapping
// ErrFatalListener when accept fails for any other reason. Temporary accept
// errors, including descriptor exhaustion, are retried with backoff.
func (a *Acceptor) Serve() error {
	if a.listener == nil {
		return fmt.Errorf("%w: no listener configured", ErrFatalListener)
	}

	a.log.Info("accepting relay connections", "addr", a.listener.Addr().String(), "rooms", a.roomCount)

	var backoff time.Duration
	for {
		transport, err := a.listener.Accept()
		if err != nil {
			if a.relay.Terminated() || errors.Is(err, net.ErrClosed) {
				a.log.Info("accept loop stopped")
				return nil
			}

			if isTemporaryAcceptError(err) {
				backoff = nextBackoff(backoff)
				a.log.Warn("temporary accept error; retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}

			return fmt.Errorf("%w: %w", ErrFatalListener, err)
		}
		backoff = 0

		a.Admit(transport)
	}
}

// isTemporaryAcceptError reports whether accept may succeed if retried: a
// timeout, a peer that aborted before accept, or a process or system out of
// file descriptors.
func isTemporaryAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	current *= 2
	if current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}

// Admit sends the room-count preamble on a freshly accepted transport, then
// starts and tracks a ConnectionHandler for it. Failures are contained to the
// transport and logged.
func (a *Acceptor) Admit(transport Transport) {
	if err := transport.WriteLine(formatRoomCount(a.roomCount)); err != nil {
		a.log.Warn("failed to send room count", "addr", transport.RemoteAddr(), "err", err)
		a.closeRejected(transport)
		return
	}

	handler := NewConnectionHandler(transport, a.relay, a.log, a.metrics)

	a.mu.Lock()
	if a.relay.Terminated() {
		a.mu.Unlock()
		a.log.Info("rejecting connection during shutdown", "addr", transport.RemoteAddr())
		a.closeRejected(transport)
		return
	}
	a.handlers[handler] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	a.metrics.connectionAdmitted()
	a.log.Debug("client accepted", "conn", handler.Connection().ID(), "addr", transport.RemoteAddr())

	go func() {
		defer a.wg.Done()
		defer a.untrack(handler)
		handler.Run()
	}()
}

func (a *Acceptor) closeRejected(transport Transport) {
	if err := transport.Close(); err != nil {
		a.log.Warn("error closing rejected connection", "addr", transport.RemoteAddr(), "err", err)
	}
}

func (a *Acceptor) untrack(handler *ConnectionHandler) {
	a.mu.Lock()
	delete(a.handlers, handler)
	a.mu.Unlock()
}

// Tracked returns the number of handlers that have not finished yet.
func (a *Acceptor) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handlers)
}

// CloseAll closes the transport of every tracked handler and returns how many
// were closed. Already-closed transports are not an error.
func (a *Acceptor) CloseAll() int {
	a.mu.Lock()
	handlers := make([]*ConnectionHandler, 0, len(a.handlers))
	for handler := range a.handlers {
		handlers = append(handlers, handler)
	}
	a.mu.Unlock()

	for _, handler := range handlers {
		if err := handler.Close(); err != nil {
			a.log.Warn("error closing client connection", "conn", handler.Connection().ID(), "err", err)
		}
	}
	return len(handlers)
}

// Wait blocks until every started handler has finished or ctx is done.
func (a *Acceptor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
