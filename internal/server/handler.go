// Package server manages individual relay connections, driving each one
// through handshake, the active read loop, and termination.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// HandlerState is the lifecycle stage of a ConnectionHandler.
type HandlerState int32

const (
	StateAwaitingHandshake HandlerState = iota
	StateActive
	StateTerminated
)

func (s HandlerState) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("HandlerState(%d)", int32(s))
	}
}

// errDisconnect marks a client-requested disconnect; it is not a failure.
var errDisconnect = errors.New("client requested disconnect")

// ConnectionHandler owns one Connection and runs its read loop.
type ConnectionHandler struct {
	conn    *Connection
	relay   *Relay
	log     *slog.Logger
	metrics *Metrics

	state atomic.Int32
	done  chan struct{}
}

// NewConnectionHandler binds a handler to a transport. Run must be called to
// start it.
func NewConnectionHandler(transport Transport, relay *Relay, logger *slog.Logger, metrics *Metrics) *ConnectionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	conn := NewConnection(transport)
	return &ConnectionHandler{
		conn:    conn,
		relay:   relay,
		log:     logger.With("conn", conn.ID(), "addr", conn.Addr()),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Connection returns the handled connection.
func (h *ConnectionHandler) Connection() *Connection {
	return h.conn
}

// State returns the handler's current lifecycle stage.
func (h *ConnectionHandler) State() HandlerState {
	return HandlerState(h.state.Load())
}

// Done is closed once Run has returned and the transport is closed.
func (h *ConnectionHandler) Done() <-chan struct{} {
	return h.done
}

// Close closes the handler's transport, unblocking a pending read. It is safe
// to call concurrently with Run and more than once.
func (h *ConnectionHandler) Close() error {
	return h.conn.close()
}

// Run performs the handshake and then relays lines until the client leaves,
// a per-connection error occurs, or the relay shuts down. Errors never escape
// the connection; they are classified and logged here.
func (h *ConnectionHandler) Run() {
	defer close(h.done)
	defer h.closeTransport()

	if err := h.handshake(); err != nil {
		h.state.Store(int32(StateTerminated))
		h.logHandshakeError(err)
		return
	}

	h.state.Store(int32(StateActive))
	err := h.serve()

	h.relay.Leave(h.conn)
	h.state.Store(int32(StateTerminated))
	h.logExit(err)
}

// handshake reads the initial room command and joins the relay.
func (h *ConnectionHandler) handshake() error {
	line, err := h.conn.transport.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	room, err := ParseRoomCommand(line)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	h.conn.setRoom(room)

	if !h.relay.Join(h.conn) {
		return ErrShuttingDown
	}
	return nil
}

// serve is the active read loop. A nil return means the peer closed the
// stream or the relay is terminating.
func (h *ConnectionHandler) serve() error {
	for !h.relay.Terminated() {
		line, err := h.conn.transport.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		switch {
		case line == DisconnectCommand:
			return errDisconnect

		case isRoomCommand(line):
			room, err := ParseRoomCommand(line)
			if err != nil {
				return err
			}
			h.conn.setRoom(room)
			h.metrics.roomSwitched()
			h.log.Info("client switched room", "room", room)

		default:
			h.relay.Broadcast(h.conn, line)
		}
	}
	return nil
}

func (h *ConnectionHandler) closeTransport() {
	if err := h.conn.close(); err != nil {
		h.log.Warn("error closing connection", "err", err)
	}
}

func (h *ConnectionHandler) logHandshakeError(err error) {
	switch {
	case errors.Is(err, ErrShuttingDown):
		h.log.Info("handshake completed during shutdown; dropping client")
	case h.relay.Terminated():
		h.log.Info("closed before handshake during shutdown", "err", err)
	case errors.Is(err, io.EOF):
		h.metrics.handshakeFailed()
		h.log.Info("client left before handshake")
	default:
		h.metrics.handshakeFailed()
		h.log.Warn("rejected client", "err", err)
	}
}

func (h *ConnectionHandler) logExit(err error) {
	switch {
	case err == nil:
		h.log.Info("client disconnected")
	case errors.Is(err, errDisconnect):
		h.log.Info("client shut down its session")
	case errors.Is(err, ErrRoomCommand):
		h.log.Warn("dropping client after malformed room command", "err", err)
	case errors.Is(err, ErrTransport):
		h.log.Warn("client read failed", "err", err)
	default:
		h.log.Error("client terminated unexpectedly", "err", err)
	}
}
