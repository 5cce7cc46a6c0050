package meshnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorfMatchesKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     error
		wantName string
	}{
		{ErrInvalidArgument, "InvalidArgumentsError"},
		{ErrAuthentication, "AuthError"},
		{ErrAuthTokenExpired, "AuthTokenExpiredError"},
		{ErrAuthTokenMalformed, "AuthTokenMalformedError"},
		{ErrAuthTokenInvalid, "AuthTokenInvalidError"},
		{ErrProtocol, "ProtocolError"},
		{ErrResourceLimit, "ResourceLimitError"},
		{ErrForbidden, "ForbiddenError"},
		{ErrTimeout, "TimeoutError"},
		{ErrConnectionClosed, "ConnectionClosedError"},
		{ErrNotFound, "NotFoundError"},
		{ErrFormat, "FormatError"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.wantName, func(t *testing.T) {
			t.Parallel()

			err := Errorf(tt.kind, "detail %d", 1)
			assert.Equal(t, tt.wantName, err.Name)
			assert.Equal(t, "detail 1", err.Message)
			assert.Equal(t, tt.wantName+": detail 1", err.Error())
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestAuthTokenErrorsAreAuthErrors(t *testing.T) {
	t.Parallel()

	for _, kind := range []error{ErrAuthTokenExpired, ErrAuthTokenMalformed, ErrAuthTokenInvalid} {
		assert.ErrorIs(t, Errorf(kind, "x"), ErrAuthentication)
	}
}

func TestDecodedErrorKeepsKind(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Errorf(ErrAuthTokenExpired, "token expired"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"AuthTokenExpiredError","message":"token expired"}`, string(data))

	var decoded Error
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.ErrorIs(t, &decoded, ErrAuthTokenExpired)
	assert.ErrorIs(t, &decoded, ErrAuthentication)

	unknown := &Error{Name: "SomethingElse", Message: "?"}
	assert.Nil(t, unknown.Unwrap())
}

func TestAsError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, AsError(nil))

	typed := Errorf(ErrTimeout, "late")
	assert.Same(t, typed, AsError(fmt.Errorf("wrapped: %w", typed)))

	wrapped := AsError(fmt.Errorf("lookup: %w", ErrNotFound))
	assert.Equal(t, "NotFoundError", wrapped.Name)
	assert.ErrorIs(t, wrapped, ErrNotFound)

	plain := AsError(errors.New("boom"))
	assert.Equal(t, "Error", plain.Name)
	assert.Equal(t, "boom", plain.Message)
}

func TestIsReserved(t *testing.T) {
	t.Parallel()

	assert.True(t, IsReserved(CallHandshake))
	assert.True(t, IsReserved(TransmitPublish))
	assert.False(t, IsReserved("chat"))
	assert.False(t, IsReserved(""))
}

func TestStateNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "subscribed", Subscribed.String())
	assert.Equal(t, "badAuthToken", SocketBadAuthToken.String())
	assert.Equal(t, "socketSubscribeStateChange", EventSocketSubscribeStateChange.String())
	assert.Equal(t, "unknown", SocketEventKind(-1).String())
}
