// Package ws is the public entry point for building a meshnet server.
package ws

import (
	"net/http"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/auth"
	"github.com/luciancaetano/meshnet/internal/broker"
	"github.com/luciancaetano/meshnet/internal/inorder"
	"github.com/luciancaetano/meshnet/internal/protocol"
	"github.com/luciancaetano/meshnet/internal/websocket"
)

type (
	RateLimitConfig = websocket.RateLimitConfig
	CheckOriginFn   = websocket.CheckOriginFn
	OnConnectFn     = websocket.OnConnectFn
	OnDisconnectFn  = websocket.OnClientDisconnectFn
	ServerConfig    = websocket.ServerConfig

	AuthOptions = auth.Options
	AuthKey     = auth.Key

	Broker     = broker.Broker
	Subscriber = broker.Subscriber
	Codec      = protocol.Codec

	CleanupMode = inorder.Mode
)

// Cleanup modes for ServerConfig.CleanupMode.
const (
	CleanupClose = inorder.ModeClose
	CleanupKill  = inorder.ModeKill
)

// New creates a server from cfg.
//
// Example:
//
//	cfg := ws.NewConfig(":8080", ws.AllOrigins())
//	cfg.Auth.Key = ws.SharedKey(secret)
//	cfg.OnConnect = func(socket meshnet.Socket) {
//	    log.Printf("socket connected: %s", socket.ID())
//	}
//	server, err := ws.New(cfg)
func New(cfg *ServerConfig) (meshnet.Server, error) {
	return websocket.New(cfg)
}

// NewConfig returns a config listening on addr with the default rate limit.
func NewConfig(addr string, checkOrigin CheckOriginFn) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		RateLimitConfig: DefaultRateLimitConfig(),
		CheckOrigin:     checkOrigin,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// SharedKey returns an HS* signing secret.
func SharedKey(secret []byte) AuthKey {
	return auth.SharedKey(secret)
}

// KeyPair returns an asymmetric signing key such as an RSA key pair.
func KeyPair(private, public any) AuthKey {
	return auth.KeyPair(private, public)
}

// NewSimpleBroker returns the in-process broker used by default.
func NewSimpleBroker() Broker {
	return broker.NewSimpleBroker()
}

// JSONCodec sends packets as JSON text frames. It is the default.
func JSONCodec() Codec {
	return protocol.JSONCodec{}
}

// BinaryCodec sends packets as binary frames with a frame-kind header.
func BinaryCodec() Codec {
	return protocol.BinaryCodec{}
}
