package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luciancaetano/meshnet"
)

const (
	headerSize     = 4
	maxPayloadSize = 10 * 1024 * 1024 // 10MB max payload size

	// MaxFrameSize is the largest frame either codec produces or accepts.
	MaxFrameSize = headerSize + maxPayloadSize
)

// Frame kinds written in the binary codec header.
const (
	FrameRequest  uint32 = 0x01
	FrameResponse uint32 = 0x02
	FrameTransmit uint32 = 0x03
)

// Packet is the unit exchanged over the wire.
//
// A packet with CID is a call expecting a response, a packet with RID is a
// response to the call with that id, and a packet with only Event is a
// transmit.
type Packet struct {
	Event string         `json:"event,omitempty"`
	Data  any            `json:"data,omitempty"`
	CID   int64          `json:"cid,omitempty"`
	RID   int64          `json:"rid,omitempty"`
	Error *meshnet.Error `json:"error,omitempty"`
}

// IsResponse reports whether p answers an earlier call.
func (p *Packet) IsResponse() bool {
	return p.RID != 0 && p.Event == ""
}

// Kind returns the frame kind of p.
func (p *Packet) Kind() uint32 {
	switch {
	case p.IsResponse():
		return FrameResponse
	case p.CID != 0:
		return FrameRequest
	default:
		return FrameTransmit
	}
}

// Codec turns packets into frames and back.
type Codec interface {
	Encode(p *Packet) ([]byte, error)
	Decode(data []byte, p *Packet) error
	// Binary reports whether frames are sent as binary WebSocket messages.
	Binary() bool
}

// JSONCodec encodes packets as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Encode(p *Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", meshnet.ErrMsgFailedToEncode, err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(data), maxPayloadSize)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, p *Packet) error {
	if len(data) > maxPayloadSize {
		return meshnet.Errorf(meshnet.ErrFormat, "payload size %d exceeds maximum %d bytes", len(data), maxPayloadSize)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return meshnet.Errorf(meshnet.ErrFormat, "invalid packet: %v", err)
	}
	return nil
}

func (JSONCodec) Binary() bool { return false }

// BinaryCodec prefixes the JSON encoding with the packet's frame kind.
type BinaryCodec struct{}

func (BinaryCodec) Encode(p *Packet) ([]byte, error) {
	payload, err := JSONCodec{}.Encode(p)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(p.Kind(), payload)
}

func (BinaryCodec) Decode(data []byte, p *Packet) error {
	kind, payload, err := DecodeFrame(data)
	if err != nil {
		return meshnet.Errorf(meshnet.ErrFormat, "%v", err)
	}
	if err := (JSONCodec{}).Decode(payload, p); err != nil {
		return err
	}
	if p.Kind() != kind {
		return meshnet.Errorf(meshnet.ErrFormat, "frame kind %d does not match packet", kind)
	}
	return nil
}

func (BinaryCodec) Binary() bool { return true }

// EncodeFrame encodes kind as the first 4 bytes (big-endian) followed by the payload.
func EncodeFrame(kind uint32, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(payload), maxPayloadSize)
	}

	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], kind)
	copy(out[headerSize:], payload)
	return out, nil
}

// DecodeFrame decodes the first 4 bytes as the frame kind (big-endian) and
// returns the rest as payload.
// The payload slice references the input data for performance - do not modify it.
func DecodeFrame(data []byte) (uint32, []byte, error) {
	if len(data) < headerSize {
		return 0, nil, errors.New("data too short")
	}

	payloadSize := len(data) - headerSize
	if payloadSize > maxPayloadSize {
		return 0, nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", payloadSize, maxPayloadSize)
	}

	kind := binary.BigEndian.Uint32(data[:headerSize])
	switch kind {
	case FrameRequest, FrameResponse, FrameTransmit:
	default:
		return 0, nil, fmt.Errorf("unknown frame kind %d", kind)
	}
	return kind, data[headerSize:], nil
}

// ChannelName extracts a channel name from subscribe/unsubscribe data, which
// is either the name itself or an object with a "channel" field.
func ChannelName(data any) (string, bool) {
	switch v := data.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		name, ok := v["channel"].(string)
		return name, ok && name != ""
	default:
		return "", false
	}
}

// PublishData is the payload of #publish calls and transmits.
type PublishData struct {
	Channel string `json:"channel"`
	Data    any    `json:"data,omitempty"`
}

// ParsePublish extracts a PublishData from decoded call data.
func ParsePublish(data any) (PublishData, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return PublishData{}, false
	}
	name, ok := m["channel"].(string)
	if !ok || name == "" {
		return PublishData{}, false
	}
	return PublishData{Channel: name, Data: m["data"]}, true
}

// AuthTokenField extracts the "authToken" field of handshake data. The value
// is returned as-is so a non-string token reaches the verifier.
func AuthTokenField(data any) (any, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	tok, ok := m["authToken"]
	if !ok || tok == nil {
		return nil, false
	}
	return tok, true
}

// HandshakeResult is the response to #handshake.
type HandshakeResult struct {
	ID              string         `json:"id"`
	PingTimeoutMs   int64          `json:"pingTimeout"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	AuthError       *meshnet.Error `json:"authError,omitempty"`
}

// AuthenticateResult is the response to #authenticate.
type AuthenticateResult struct {
	IsAuthenticated bool           `json:"isAuthenticated"`
	AuthError       *meshnet.Error `json:"authError,omitempty"`
}

// SetAuthTokenData is the payload of the #setAuthToken transmit.
type SetAuthTokenData struct {
	Token string `json:"token"`
}
