// Package server defines the relay's wire commands, error taxonomy, and
// utility helpers that are reused across handler and acceptor logic.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DisconnectCommand is the line a client sends to leave the relay gracefully.
const DisconnectCommand = "shutdown"

// roomPrefix marks a room command, both in the handshake and in room switches.
const roomPrefix = "/"

var (
	// ErrHandshake is returned when the first client line is not a room command.
	ErrHandshake = errors.New("invalid handshake")

	// ErrRoomCommand is returned when a later "/" line does not carry a room id.
	ErrRoomCommand = errors.New("malformed room command")

	// ErrTransport wraps read failures other than a clean end of stream.
	ErrTransport = errors.New("transport failure")

	// ErrLineTooLong is returned by transports when a line exceeds the configured size.
	ErrLineTooLong = errors.New("line exceeds maximum message size")

	// ErrFatalListener is returned by Acceptor.Serve when accept cannot continue.
	ErrFatalListener = errors.New("listener failed")

	// ErrShuttingDown is returned when a connection completes its handshake
	// after shutdown has started.
	ErrShuttingDown = errors.New("relay is shutting down")
)

// ParseRoomCommand parses a line of the form "/<room>" where room is a
// non-negative decimal integer. Signs, spaces and empty ids are rejected.
func ParseRoomCommand(line string) (int, error) {
	raw, ok := strings.CutPrefix(line, roomPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: missing %q prefix in %q", ErrRoomCommand, roomPrefix, line)
	}
	if raw == "" {
		return 0, fmt.Errorf("%w: empty room id", ErrRoomCommand)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q is not a room id", ErrRoomCommand, raw)
		}
	}
	room, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRoomCommand, err)
	}
	return room, nil
}

// isRoomCommand reports whether a line should be treated as a room switch.
func isRoomCommand(line string) bool {
	return strings.HasPrefix(line, roomPrefix)
}

// formatRoomCount renders the handshake preamble sent to every new client.
func formatRoomCount(rooms int) string {
	return strconv.Itoa(rooms)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
