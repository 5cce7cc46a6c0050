// Package meshnet provides a real-time messaging server over WebSocket with
// request/response calls, token authentication and channel publish/subscribe.
//
// # Architecture
//
// Each accepted WebSocket becomes a Socket. A socket must open with a
// "#handshake" call; after that it may authenticate, make application calls,
// and subscribe to channels. Inbound packets of one socket are handled one at
// a time in arrival order, while the transport keeps reading.
//
// Publishing to a channel delivers the data to every socket subscribed to it
// at the moment of the call. The in-process broker is used by default; other
// brokers can be plugged in through ws.ServerConfig.Broker.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/meshnet"
//	    "github.com/luciancaetano/meshnet/ws"
//	)
//
//	cfg := ws.NewConfig(":8080", ws.AllOrigins())
//	cfg.Auth.Key = ws.SharedKey([]byte("secret"))
//	server, err := ws.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	server.RegisterHandler(ctx, "login", func(ctx context.Context, req *meshnet.Request) (any, error) {
//	    return nil, req.Socket.SetAuthToken(ctx, meshnet.Claims{"sub": "123"})
//	})
//
//	server.On(meshnet.EventSocketSubscribe, func(ev meshnet.Event) {
//	    log.Printf("socket %s subscribed to %v", ev.Socket.ID(), ev.Data)
//	})
//
//	server.Start(ctx)
//
// # Protocol Format
//
// Packets are encoded by the configured codec. With the default JSON codec:
//
//	{"event": "#subscribe", "data": {"channel": "news"}, "cid": 3}   call
//	{"rid": 3, "data": null}                                         response
//	{"rid": 3, "error": {"name": "ResourceLimitError", "message": "..."}}
//	{"event": "#publish", "data": {"channel": "news", "data": "..."}} transmit
//
// The binary codec prefixes the same JSON with a 4-byte big-endian frame kind.
//
// # Reserved Calls
//
//   - #handshake: first call of every socket, optionally carrying an auth token
//   - #authenticate: verify a signed token and authenticate the socket
//   - #removeAuthToken: drop the socket's auth state
//   - #subscribe / #unsubscribe: manage channel subscriptions
//   - #publish: publish to a channel (unless client publish is disabled)
//
// # Errors
//
// Failures sent to clients carry a name identifying one of the error kinds
// (ErrInvalidArgument, ErrAuthentication, ErrProtocol, ErrResourceLimit,
// ErrForbidden, ErrTimeout, ErrConnectionClosed, ErrNotFound, ErrFormat).
//
// # Security Features
//
//   - Rate limiting per socket (token bucket)
//   - Maximum payload: 10MB
//   - Ping/pong keepalive with configurable timeout
//   - Auth token algorithm fixed at configuration time
//   - Origin validation via CheckOriginFn
package meshnet
