package meshnet

// SocketState is a socket's lifecycle state.
type SocketState int

const (
	StateConnecting SocketState = iota
	StateHandshaking
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AuthState reports whether a socket is authenticated.
type AuthState int

const (
	Unauthenticated AuthState = iota
	Authenticated
)

func (s AuthState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// SubscriptionState is the state of one channel for one socket.
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribed
)

func (s SubscriptionState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// SocketEventKind identifies an event emitted by a socket.
type SocketEventKind int

const (
	SocketConnecting SocketEventKind = iota
	SocketConnect
	SocketConnectAbort
	SocketDisconnect
	SocketClose
	SocketError
	SocketMessage
	SocketPing
	SocketPong
	SocketRequest
	SocketResponse
	SocketUnexpectedResponse
	SocketAuthenticate
	SocketDeauthenticate
	SocketAuthStateChange
	SocketBadAuthToken
	SocketSubscribe
	SocketSubscribeFail
	SocketUnsubscribe
	SocketSubscribeStateChange
)

var socketEventNames = [...]string{
	SocketConnecting:           "connecting",
	SocketConnect:              "connect",
	SocketConnectAbort:         "connectAbort",
	SocketDisconnect:           "disconnect",
	SocketClose:                "close",
	SocketError:                "error",
	SocketMessage:              "message",
	SocketPing:                 "ping",
	SocketPong:                 "pong",
	SocketRequest:              "request",
	SocketResponse:             "response",
	SocketUnexpectedResponse:   "unexpectedResponse",
	SocketAuthenticate:         "authenticate",
	SocketDeauthenticate:       "deauthenticate",
	SocketAuthStateChange:      "authStateChange",
	SocketBadAuthToken:         "badAuthToken",
	SocketSubscribe:            "subscribe",
	SocketSubscribeFail:        "subscribeFail",
	SocketUnsubscribe:          "unsubscribe",
	SocketSubscribeStateChange: "subscribeStateChange",
}

func (k SocketEventKind) String() string {
	if k >= 0 && int(k) < len(socketEventNames) {
		return socketEventNames[k]
	}
	return "unknown"
}

// EventKind identifies an event emitted by the server.
type EventKind int

const (
	EventConnection EventKind = iota
	EventHandshake
	EventListening
	EventReady
	EventClose
	EventError
	EventWarning

	EventSocketConnecting
	EventSocketConnect
	EventSocketConnectAbort
	EventSocketDisconnect
	EventSocketClose
	EventSocketError
	EventSocketMessage
	EventSocketPing
	EventSocketPong
	EventSocketRequest
	EventSocketResponse
	EventSocketUnexpectedResponse
	EventSocketAuthenticate
	EventSocketDeauthenticate
	EventSocketAuthStateChange
	EventSocketBadAuthToken
	EventSocketSubscribe
	EventSocketSubscribeFail
	EventSocketUnsubscribe
	EventSocketSubscribeStateChange
)

var eventNames = [...]string{
	EventConnection:                 "connection",
	EventHandshake:                  "handshake",
	EventListening:                  "listening",
	EventReady:                      "ready",
	EventClose:                      "close",
	EventError:                      "error",
	EventWarning:                    "warning",
	EventSocketConnecting:           "socketConnecting",
	EventSocketConnect:              "socketConnect",
	EventSocketConnectAbort:         "socketConnectAbort",
	EventSocketDisconnect:           "socketDisconnect",
	EventSocketClose:                "socketClose",
	EventSocketError:                "socketError",
	EventSocketMessage:              "socketMessage",
	EventSocketPing:                 "socketPing",
	EventSocketPong:                 "socketPong",
	EventSocketRequest:              "socketRequest",
	EventSocketResponse:             "socketResponse",
	EventSocketUnexpectedResponse:   "socketUnexpectedResponse",
	EventSocketAuthenticate:         "socketAuthenticate",
	EventSocketDeauthenticate:       "socketDeauthenticate",
	EventSocketAuthStateChange:      "socketAuthStateChange",
	EventSocketBadAuthToken:         "socketBadAuthToken",
	EventSocketSubscribe:            "socketSubscribe",
	EventSocketSubscribeFail:        "socketSubscribeFail",
	EventSocketUnsubscribe:          "socketUnsubscribe",
	EventSocketSubscribeStateChange: "socketSubscribeStateChange",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// SocketEvent is emitted by a socket. Data holds one of the payload types
// below, depending on Kind.
type SocketEvent struct {
	Kind SocketEventKind
	Data any
	Err  error
}

// Event is emitted by the server. Socket is nil for server-level events.
type Event struct {
	Kind   EventKind
	Socket Socket
	Data   any
	Err    error
}

// ConnectData accompanies SocketConnect.
type ConnectData struct {
	ID              string
	IsAuthenticated bool
	AuthError       error
}

// DisconnectData accompanies SocketDisconnect, SocketConnectAbort and
// SocketClose.
type DisconnectData struct {
	Code   int
	Reason string
}

// AuthStateChangeData accompanies SocketAuthStateChange.
type AuthStateChangeData struct {
	OldState    AuthState
	NewState    AuthState
	AuthToken   Claims
	SignedToken string
}

// AuthenticateData accompanies SocketAuthenticate and SocketDeauthenticate.
type AuthenticateData struct {
	AuthToken   Claims
	SignedToken string
}

// BadAuthTokenData accompanies SocketBadAuthToken.
type BadAuthTokenData struct {
	SignedToken any
}

// ChannelData accompanies SocketSubscribe, SocketSubscribeFail and
// SocketUnsubscribe.
type ChannelData struct {
	Channel string
}

// SubscribeStateChangeData accompanies SocketSubscribeStateChange.
type SubscribeStateChangeData struct {
	Channel           string
	OldState          SubscriptionState
	NewState          SubscriptionState
	AlreadySubscribed bool
}

// ResponseData accompanies SocketResponse and SocketUnexpectedResponse.
type ResponseData struct {
	CallID int64
	Data   any
	Error  error
}

// MessageData accompanies SocketMessage.
type MessageData struct {
	Raw []byte
}
