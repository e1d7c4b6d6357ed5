// Package server adapts gorilla WebSocket connections to the relay's
// line-oriented Transport so browser clients share rooms with TCP clients.
package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsTransport struct {
	conn         *websocket.Conn
	addr         string
	writeTimeout time.Duration

	// pending holds the remaining lines of a frame that carried several.
	pending []string

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport wraps an upgraded WebSocket connection. Each outgoing
// line is one text frame. An incoming frame holding several newline-separated
// lines is read as that many lines, the same framing TCP clients get.
func NewWebSocketTransport(conn *websocket.Conn, addr string, opts TransportOptions) Transport {
	limit := int64(opts.MaxLineSize)
	if limit <= 0 {
		limit = defaultMaxMessageSize
	}
	conn.SetReadLimit(limit)

	return &wsTransport{
		conn:         conn,
		addr:         addr,
		writeTimeout: opts.WriteTimeout,
	}
}

func (t *wsTransport) ReadLine() (string, error) {
	for len(t.pending) == 0 {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", t.classifyReadError(err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		t.pending = splitFrame(string(data))
	}

	line := t.pending[0]
	t.pending = t.pending[1:]
	return line, nil
}

// splitFrame breaks a text frame into lines. A single trailing newline ends
// the last line rather than starting an empty one.
func splitFrame(frame string) []string {
	lines := strings.Split(strings.TrimSuffix(frame, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// classifyReadError maps close frames and local closure to io.EOF so the
// handler treats them as an ordinary end of stream.
func (t *wsTransport) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrLineTooLong
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		return io.EOF
	}

	return err
}

func (t *wsTransport) WriteLine(line string) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	if isExpectedCloseError(t.closeErr) {
		return nil
	}
	return t.closeErr
}

func (t *wsTransport) RemoteAddr() string {
	return t.addr
}
