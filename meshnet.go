package meshnet

import (
	"context"
	"net"
)

// Claims is the decoded payload of an auth token.
type Claims = map[string]any

// HandlerFunc handles an application-defined inbound call.
//
// The returned value is sent back to the caller when the call expects a
// response. A non-nil error is sent back as a failure response instead.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// UnhandledRequestFunc is consulted for inbound calls that have no registered
// handler. It reports handled=false to let the call fail with ErrNotFound.
type UnhandledRequestFunc func(ctx context.Context, req *Request) (result any, handled bool, err error)

// Listener receives server events.
type Listener func(ev Event)

// SocketListener receives socket events.
type SocketListener func(ev SocketEvent)

// Request is one inbound call or transmit received from a socket.
type Request struct {
	// Socket is the connection the request arrived on.
	Socket Socket
	// Event is the call name.
	Event string
	// Data is the decoded payload as produced by the codec.
	Data any
	// CallID is zero for transmits, which do not expect a response.
	CallID int64
}

// ExpectsResponse reports whether the caller is waiting for a response.
func (r *Request) ExpectsResponse() bool {
	return r.CallID != 0
}

// Server defines a real-time messaging server: sockets connect over
// WebSocket, perform a handshake, optionally authenticate, exchange
// correlated calls and subscribe to channels.
//
// Example usage:
//
//	import "github.com/luciancaetano/meshnet/ws"
//
//	server, err := ws.New(ws.NewConfig(":8080", ws.AllOrigins()))
//	if err != nil {
//	    return err
//	}
//
//	server.RegisterHandler(ctx, "echo", func(ctx context.Context, req *meshnet.Request) (any, error) {
//	    return req.Data, nil
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start binds the listener and begins accepting sockets.
	//
	// Returns an error if the server is already running or the address
	// cannot be bound.
	Start(ctx context.Context) error

	// Stop stops accepting sockets and disconnects every connected socket.
	Stop(ctx context.Context) error

	// RegisterHandler registers a handler for an application call name.
	//
	// Reserved names (see CallHandshake and friends) cannot be registered.
	RegisterHandler(ctx context.Context, event string, handler HandlerFunc) error

	// Publish sends data to every socket subscribed to channel.
	Publish(ctx context.Context, channel string, data any) error

	// Broadcast transmits a packet to every socket that completed the
	// handshake, regardless of subscriptions.
	Broadcast(ctx context.Context, event string, data any) error

	// TransmitTo transmits a packet to one socket by id.
	TransmitTo(ctx context.Context, socketID, event string, data any) error

	// On registers a listener for a server event kind and returns a function
	// that removes it.
	On(kind EventKind, listener Listener) (cancel func())

	// OnAny registers a listener for every server event kind and returns a
	// function that removes it.
	OnAny(listener Listener) (cancel func())

	// GetClient returns a socket that completed its handshake.
	GetClient(id string) (Socket, bool)

	// ClientCount returns the number of sockets that completed the handshake.
	ClientCount() int

	// PendingClientCount returns the number of sockets still handshaking.
	PendingClientCount() int

	// IsReady reports whether the broker signalled readiness.
	IsReady() bool

	// IsListening reports whether the listener is bound.
	IsListening() bool

	// Addr returns the bound address, or nil before Start.
	Addr() net.Addr
}

// Socket represents one connected client.
//
// Each socket has a unique identifier, its own lifecycle and auth state, and
// the set of channels it is subscribed to. The socket's context is cancelled
// when the connection closes.
type Socket interface {
	// ID returns the identifier assigned when the socket was accepted.
	ID() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the socket's lifecycle context.
	Context() context.Context

	// State returns the current lifecycle state.
	State() SocketState

	// AuthState reports whether the socket holds a valid auth token.
	AuthState() AuthState

	// AuthToken returns a copy of the decoded token claims, or nil.
	AuthToken() Claims

	// SignedAuthToken returns the raw signed token, or "".
	SignedAuthToken() string

	// Channels returns the channels the socket is subscribed to.
	Channels() []string

	// IsSubscribed reports whether the socket is subscribed to channel.
	IsSubscribed(channel string) bool

	// Invoke sends a call to the client and waits for its response.
	//
	// Fails with ErrTimeout when no response arrives within the ack
	// timeout, and with ErrConnectionClosed when the socket closes first.
	Invoke(ctx context.Context, event string, data any) (any, error)

	// Transmit sends a packet to the client without waiting for a response.
	Transmit(ctx context.Context, event string, data any) error

	// SetAuthToken signs claims, marks the socket authenticated and sends the
	// signed token to the client.
	SetAuthToken(ctx context.Context, claims Claims) error

	// Deauthenticate clears the socket's auth state and tells the client to
	// drop its token.
	Deauthenticate(ctx context.Context) error

	// Disconnect closes the socket with a WebSocket close code and reason.
	Disconnect(ctx context.Context, code int, reason string) error

	// Closed is closed once every cleanup step of the socket has run.
	Closed() <-chan struct{}

	// IsAlive reports whether the socket is neither closing nor closed.
	IsAlive() bool

	// On registers a listener for a socket event kind and returns a function
	// that removes it.
	On(kind SocketEventKind, listener SocketListener) (cancel func())
}
