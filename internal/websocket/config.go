package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/auth"
	"github.com/luciancaetano/meshnet/internal/broker"
	"github.com/luciancaetano/meshnet/internal/inorder"
	"github.com/luciancaetano/meshnet/internal/protocol"
)

// Defaults applied by New to zero-valued ServerConfig fields.
const (
	DefaultPath           = "/ws"
	DefaultAckTimeout     = 10 * time.Second
	DefaultPingInterval   = 8 * time.Second
	DefaultPingTimeout    = 20 * time.Second
	DefaultSendBufferSize = 256
	writeWait             = 10 * time.Second
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called when a socket is accepted, before its handshake.
//
// Note: This function is called synchronously during connection setup.
// Avoid long-running operations that could block new connections.
type OnConnectFn = func(socket meshnet.Socket)

// OnClientDisconnectFn is a callback type invoked when a socket has fully closed.
// The function receives the socket and a boolean that is true when the client
// closed normally, and false for unexpected or server-initiated disconnects.
type OnClientDisconnectFn = func(socket meshnet.Socket, voluntary bool)

// ServerConfig configures a Server. Zero values select the defaults.
type ServerConfig struct {
	// Addr is the network address to listen on (e.g., ":8080").
	Addr string
	// Path is the HTTP path upgraded to WebSocket. Defaults to "/ws".
	Path string

	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	OnUnhandledRequest meshnet.UnhandledRequestFunc

	// AckTimeout bounds how long Invoke waits for a response.
	AckTimeout time.Duration
	// PingInterval is the time between server pings.
	PingInterval time.Duration
	// PingTimeout closes sockets that stay silent for this long.
	PingTimeout time.Duration
	// PingTimeoutDisabled keeps silent sockets open.
	PingTimeoutDisabled bool

	// DisableClientPublish rejects #publish calls with meshnet.ErrForbidden.
	DisableClientPublish bool
	// SocketChannelLimit caps subscriptions per socket; 0 means no cap.
	SocketChannelLimit int

	// Auth configures the default auth engine. Ignored when AuthEngine is set.
	Auth       auth.Options
	AuthEngine *auth.Engine

	// CallIDGenerator overrides call id allocation for Invoke.
	CallIDGenerator func() int64

	// Broker defaults to an in-process broker.
	Broker broker.Broker
	// Codec defaults to protocol.JSONCodec.
	Codec protocol.Codec

	// CleanupMode decides whether queued inbound packets are handled
	// (inorder.ModeClose) or discarded (inorder.ModeKill) when a socket closes.
	CleanupMode inorder.Mode

	// SendBufferSize is the number of outbound frames queued per socket.
	SendBufferSize int

	Logger *slog.Logger
}

// RateLimitConfig defines rate limiting configuration for sockets
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a socket can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.MessagesPerSecond, c.Burst)
}
