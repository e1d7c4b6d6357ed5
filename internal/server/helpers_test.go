package server_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/server"
)

const (
	testOriginURL = "http://localhost:8080"
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTransport is an in-memory Transport. Lines queued with send are
// returned by ReadLine; Close makes pending and future reads return io.EOF.
type fakeTransport struct {
	addr   string
	lines  chan string
	closed chan struct{}

	closeOnce  sync.Once
	closeCalls atomic.Int32

	mu       sync.Mutex
	written  []string
	writeErr error
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{
		addr:   addr,
		lines:  make(chan string, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadLine() (string, error) {
	select {
	case <-f.closed:
		return "", io.EOF
	default:
	}

	select {
	case line := <-f.lines:
		return line, nil
	case <-f.closed:
		return "", io.EOF
	}
}

func (f *fakeTransport) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, line)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string {
	return f.addr
}

func (f *fakeTransport) send(line string) {
	f.lines <- line
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// runHandler starts a handler over a fake transport.
func runHandler(t *testing.T, relay *server.Relay, addr string) (*server.ConnectionHandler, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport(addr)
	handler := server.NewConnectionHandler(transport, relay, testLogger(), nil)
	go handler.Run()
	t.Cleanup(func() {
		_ = handler.Close()
		<-handler.Done()
	})
	return handler, transport
}

// joinRoom runs a handler and waits until it is registered in room.
func joinRoom(t *testing.T, relay *server.Relay, addr string, room string) (*server.ConnectionHandler, *fakeTransport) {
	t.Helper()
	handler, transport := runHandler(t, relay, addr)
	transport.send(room)
	require.Eventually(t, func() bool {
		return relay.IsMember(handler.Connection())
	}, waitFor, tick, "%s never joined %s", addr, room)
	return handler, transport
}

// startTestServer starts a relay on loopback ports and shuts it down when the
// test ends.
func startTestServer(t *testing.T, customize func(cfg *server.Config)) *server.Server {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.RoomCount = 20
	cfg.AllowedOrigins = []string{testOriginURL}
	if customize != nil {
		customize(cfg)
	}

	srv := server.New(*cfg, testLogger())
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// lineClient is a raw TCP client speaking the relay protocol.
type lineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialRelay(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *lineClient) readLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(waitFor)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return line, err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (c *lineClient) expectLine(want string) {
	c.t.Helper()
	got, err := c.readLine()
	require.NoError(c.t, err)
	require.Equal(c.t, want, got)
}

func (c *lineClient) expectNoLine(timeout time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(timeout)))
	line, err := c.reader.ReadString('\n')
	require.Error(c.t, err, "unexpected line %q", line)
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr)
	require.True(c.t, netErr.Timeout(), "expected a read timeout, got %v", err)
}

// expectClosed asserts the relay closed the stream: EOF, or a reset when
// unread data was discarded, but never a read timeout.
func (c *lineClient) expectClosed() {
	c.t.Helper()
	_, err := c.readLine()
	require.Error(c.t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(c.t, netErr.Timeout(), "connection was not closed: %v", err)
	}
}

// joinRelay dials the relay, consumes the room-count preamble and joins room.
func joinRelay(t *testing.T, srv *server.Server, room int) *lineClient {
	t.Helper()
	before := srv.Relay().Stats().Rooms[room]

	client := dialRelay(t, srv.Addr())
	client.expectLine("20")
	client.send("/" + strconv.Itoa(room))

	require.Eventually(t, func() bool {
		return srv.Relay().Stats().Rooms[room] > before
	}, waitFor, tick, "client never joined room %d", room)
	return client
}

// connectWebSocket opens a WebSocket session on the relay's HTTP surface.
func connectWebSocket(srv *server.Server, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: waitFor}
	headers := http.Header{}
	headers.Set("Origin", origin)
	return dialer.Dial("ws://"+srv.HTTPAddr()+"/ws", headers)
}
