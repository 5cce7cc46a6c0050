package meshnet

import "strings"

// Reserved call names handled by the server itself.
const (
	CallHandshake       = "#handshake"
	CallAuthenticate    = "#authenticate"
	CallRemoveAuthToken = "#removeAuthToken"
	CallSubscribe       = "#subscribe"
	CallUnsubscribe     = "#unsubscribe"
	CallPublish         = "#publish"
)

// Reserved names of packets the server sends to clients.
const (
	TransmitSetAuthToken    = "#setAuthToken"
	TransmitRemoveAuthToken = "#removeAuthToken"
	TransmitPublish         = "#publish"
)

// ReservedPrefix marks call names that applications cannot register.
const ReservedPrefix = "#"

// IsReserved reports whether event uses the reserved prefix.
func IsReserved(event string) bool {
	return strings.HasPrefix(event, ReservedPrefix)
}

// Standard error messages
const (
	// Protocol errors
	ErrMsgHandshakeRequired  = "handshake required before any other call"
	ErrMsgAlreadyHandshaked  = "handshake already completed"
	ErrMsgInvalidChannel     = "channel name must be a non-empty string"
	ErrMsgPublishDisabled    = "client publish is disabled"
	ErrMsgChannelLimit       = "socket channel limit reached"
	ErrMsgNoHandler          = "no handler for call"
	ErrMsgInvalidTokenFormat = "invalid token format - token must be a string"
	ErrMsgAlgorithmOverride  = "cannot change auth token algorithm at runtime - it must be specified as a config option on launch"

	// Connection errors
	ErrMsgConnectionClosed  = "socket connection is closed"
	ErrMsgAckTimeout        = "response timed out"
	ErrMsgSendBufferFull    = "socket send buffer is full"
	ErrMsgFailedToEncode    = "failed to encode packet"
	ErrMsgServerRunning     = "server already running"
	ErrMsgRateLimitExceeded = "rate limit exceeded"
)

// Close codes used when the server ends a socket.
const (
	CloseNormal            = 1000
	CloseGoingAway         = 1001
	CloseProtocolViolation = 1002
	ClosePolicyViolation   = 1008
	CloseAbnormal          = 1006

	// ClosePingTimeout ends sockets that stopped answering pings.
	ClosePingTimeout = 4000
)
