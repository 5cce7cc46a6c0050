package ws_test

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/protocol"
	"github.com/luciancaetano/meshnet/ws"
)

// Helper function to create a WebSocket dialer
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

func TestBasicEcho(t *testing.T) {
	t.Parallel()

	cfg := ws.NewConfig("127.0.0.1:0", ws.AllOrigins())
	cfg.Auth.Key = ws.SharedKey([]byte("echo-test-secret"))
	server, err := ws.New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, server.RegisterHandler(ctx, "echo", func(ctx context.Context, req *meshnet.Request) (any, error) {
		return req.Data, nil
	}))
	require.NoError(t, server.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	}()

	conn, _, err := newDialer().Dial("ws://"+server.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	codec := ws.JSONCodec()
	call := func(pkt *protocol.Packet) *protocol.Packet {
		frame, err := codec.Encode(pkt)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		resp := &protocol.Packet{}
		require.NoError(t, codec.Decode(data, resp))
		return resp
	}

	hs := call(&protocol.Packet{Event: meshnet.CallHandshake, CID: 1})
	require.Nil(t, hs.Error)
	assert.Equal(t, int64(1), hs.RID)

	resp := call(&protocol.Packet{Event: "echo", Data: "Hello!", CID: 2})
	require.Nil(t, resp.Error)
	assert.Equal(t, "Hello!", resp.Data)
	assert.Equal(t, 1, server.ClientCount())
}

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := ws.NewConfig(":0", nil)
	assert.Equal(t, ":0", cfg.Addr)
	require.NotNil(t, cfg.RateLimitConfig)
	assert.True(t, cfg.RateLimitConfig.Enabled)
	assert.False(t, ws.NoRateLimit().Enabled)
	assert.True(t, ws.AllOrigins()(nil))
	assert.True(t, ws.BinaryCodec().Binary())
	assert.True(t, ws.NewSimpleBroker().IsReady())
}
