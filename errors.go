package meshnet

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrAuthentication   = errors.New("authentication failed")
	ErrProtocol         = errors.New("protocol violation")
	ErrResourceLimit    = errors.New("resource limit exceeded")
	ErrForbidden        = errors.New("forbidden")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotFound         = errors.New("not found")
	ErrFormat           = errors.New("format error")

	// Authentication failures, each also matching ErrAuthentication.
	ErrAuthTokenExpired   = fmt.Errorf("%w: token expired", ErrAuthentication)
	ErrAuthTokenMalformed = fmt.Errorf("%w: token malformed", ErrAuthentication)
	ErrAuthTokenInvalid   = fmt.Errorf("%w: token signature invalid", ErrAuthentication)
)

// Most specific kinds come first.
var errorKinds = []struct {
	kind error
	name string
}{
	{ErrAuthTokenExpired, "AuthTokenExpiredError"},
	{ErrAuthTokenMalformed, "AuthTokenMalformedError"},
	{ErrAuthTokenInvalid, "AuthTokenInvalidError"},
	{ErrInvalidArgument, "InvalidArgumentsError"},
	{ErrAuthentication, "AuthError"},
	{ErrProtocol, "ProtocolError"},
	{ErrResourceLimit, "ResourceLimitError"},
	{ErrForbidden, "ForbiddenError"},
	{ErrTimeout, "TimeoutError"},
	{ErrConnectionClosed, "ConnectionClosedError"},
	{ErrNotFound, "NotFoundError"},
	{ErrFormat, "FormatError"},
}

// Error is the failure sent to or received from a peer.
//
// Name identifies the error kind on the wire, so an Error decoded from a
// response still matches the kind it was created with:
//
//	_, err := socket.Invoke(ctx, "work", nil)
//	if errors.Is(err, meshnet.ErrTimeout) {
//	    // ...
//	}
type Error struct {
	Name    string `json:"name"`
	Message string `json:"message"`

	kind error
}

// Errorf builds an Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{
		Name:    ErrorName(kind),
		Message: fmt.Sprintf(format, args...),
		kind:    kind,
	}
}

func (e *Error) Error() string {
	return e.Name + ": " + e.Message
}

// Unwrap returns the error kind, resolved from Name for decoded errors.
func (e *Error) Unwrap() error {
	if e.kind != nil {
		return e.kind
	}
	for _, k := range errorKinds {
		if k.name == e.Name {
			return k.kind
		}
	}
	return nil
}

// ErrorName returns the wire name of err's kind, or "Error" for errors that
// match no kind.
func ErrorName(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Name != "" {
		return e.Name
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "Error"
}

// AsError converts any error into an Error suitable for the wire.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	out := &Error{Name: ErrorName(err), Message: err.Error()}
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			out.kind = k.kind
			break
		}
	}
	return out
}
