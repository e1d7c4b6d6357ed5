// Package server implements line-oriented transports over TCP so the relay
// core never touches raw sockets directly.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Transport is a line-oriented, exclusively owned client stream.
//
// ReadLine blocks for the next line and returns it without its terminator.
// A clean end of stream, including a stream closed locally, is reported as
// io.EOF. WriteLine appends the terminator. Close is idempotent.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// Listener produces Transports for newly accepted clients.
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() net.Addr
}

// TransportOptions controls the limits applied to every accepted transport.
type TransportOptions struct {
	MaxLineSize  int
	WriteTimeout time.Duration
}

type tcpListener struct {
	ln   net.Listener
	opts TransportOptions
}

// Listen opens a TCP listener whose accepted connections speak the line protocol.
func Listen(addr string, opts TransportOptions) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return NewTCPListener(ln, opts), nil
}

// NewTCPListener wraps an existing net.Listener.
func NewTCPListener(ln net.Listener, opts TransportOptions) Listener {
	return &tcpListener{ln: ln, opts: opts}
}

func (l *tcpListener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPTransport(conn, l.opts), nil
}

func (l *tcpListener) Close() error {
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

type tcpTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	addr         string
	maxLineSize  int
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewTCPTransport wraps a stream connection. Lines longer than
// opts.MaxLineSize bytes fail with ErrLineTooLong.
func NewTCPTransport(conn net.Conn, opts TransportOptions) Transport {
	size := opts.MaxLineSize
	if size <= 0 {
		size = defaultMaxMessageSize
	}
	// Room for a CRLF terminator. bufio raises small sizes to its own
	// minimum, so ReadLine checks the length as well.
	return &tcpTransport{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, size+2),
		addr:         conn.RemoteAddr().String(),
		maxLineSize:  size,
		writeTimeout: opts.WriteTimeout,
	}
}

func (t *tcpTransport) ReadLine() (string, error) {
	raw, err := t.reader.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return "", io.EOF
	default:
		return "", err
	}

	line := strings.TrimSuffix(string(raw[:len(raw)-1]), "\r")
	if len(line) > t.maxLineSize {
		return "", ErrLineTooLong
	}
	return line, nil
}

func (t *tcpTransport) WriteLine(line string) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(t.conn, line+"\n")
	return err
}

func (t *tcpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	if isExpectedCloseError(t.closeErr) {
		return nil
	}
	return t.closeErr
}

func (t *tcpTransport) RemoteAddr() string {
	return t.addr
}
