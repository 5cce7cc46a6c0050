package websocket

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/protocol"
)

const waitTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startServer starts a server on a random local port and stops it when the
// test ends.
func startServer(t *testing.T, cfg *ServerConfig) *Server {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = NoRateLimit()
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collect buffers server events of kind.
func collect(srv *Server, kind meshnet.EventKind) <-chan meshnet.Event {
	ch := make(chan meshnet.Event, 128)
	srv.On(kind, func(ev meshnet.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan meshnet.Event) meshnet.Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return meshnet.Event{}
	}
}

// testClient speaks the JSON packet protocol over a gorilla connection.
type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	cid     int64
	packets chan *protocol.Packet
	readErr chan error
	done    chan struct{}
	backlog []*protocol.Packet
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()

	dialer := &websocket.Dialer{HandshakeTimeout: waitTimeout}
	conn, _, err := dialer.Dial("ws://"+srv.Addr().String()+DefaultPath, nil)
	require.NoError(t, err)

	c := &testClient{
		t:       t,
		conn:    conn,
		packets: make(chan *protocol.Packet, 256),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
	go c.read()

	t.Cleanup(func() {
		close(c.done)
		conn.Close()
	})
	return c
}

func (c *testClient) read() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr <- err
			return
		}
		pkt := &protocol.Packet{}
		if err := (protocol.JSONCodec{}).Decode(msg, pkt); err != nil {
			continue
		}
		select {
		case c.packets <- pkt:
		case <-c.done:
			return
		}
	}
}

func (c *testClient) send(pkt *protocol.Packet) {
	c.t.Helper()

	data, err := (protocol.JSONCodec{}).Encode(pkt)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// next returns the first packet matching match, keeping the others for
// later calls.
func (c *testClient) next(match func(*protocol.Packet) bool) *protocol.Packet {
	c.t.Helper()

	for i, p := range c.backlog {
		if match(p) {
			c.backlog = slices.Delete(c.backlog, i, i+1)
			return p
		}
	}

	timeout := time.After(waitTimeout)
	for {
		select {
		case p := <-c.packets:
			if match(p) {
				return p
			}
			c.backlog = append(c.backlog, p)
		case <-timeout:
			c.t.Fatal("timed out waiting for packet")
			return nil
		}
	}
}

func (c *testClient) emitCall(event string, data any) int64 {
	c.t.Helper()

	c.cid++
	c.send(&protocol.Packet{Event: event, Data: data, CID: c.cid})
	return c.cid
}

func (c *testClient) response(cid int64) *protocol.Packet {
	c.t.Helper()
	return c.next(func(p *protocol.Packet) bool { return p.RID == cid })
}

func (c *testClient) call(event string, data any) *protocol.Packet {
	c.t.Helper()
	return c.response(c.emitCall(event, data))
}

func (c *testClient) expect(event string) *protocol.Packet {
	c.t.Helper()
	return c.next(func(p *protocol.Packet) bool { return p.Event == event })
}

// handshake performs #handshake and returns its result object.
func (c *testClient) handshake(token any) map[string]any {
	c.t.Helper()

	var data any
	if token != nil {
		data = map[string]any{"authToken": token}
	}
	resp := c.call(meshnet.CallHandshake, data)
	require.Nil(c.t, resp.Error)
	result, ok := resp.Data.(map[string]any)
	require.True(c.t, ok, "handshake result is %T", resp.Data)
	return result
}

// closeCode waits for the server to close the connection and returns the
// close code it sent.
func (c *testClient) closeCode() int {
	c.t.Helper()

	select {
	case err := <-c.readErr:
		var closeErr *websocket.CloseError
		require.ErrorAs(c.t, err, &closeErr)
		return closeErr.Code
	case <-time.After(waitTimeout):
		c.t.Fatal("timed out waiting for close")
		return 0
	}
}

func (c *testClient) closeWith(code int, reason string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)))
}
