package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Decode errors. Callers compare with errors.Is; the returned error carries
// detail about the offending frame.
var (
	ErrMalformed   = errors.New("protocol: malformed message")
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrInvalidJoin = errors.New("protocol: join_stream requires userId and streamId")
)

// Timestamp formats t the way every outbound event carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DecodeInbound parses one client frame into its Inbound variant.
func DecodeInbound(data []byte) (Inbound, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var msg Inbound
	switch env.Type {
	case TypeJoinStream:
		msg = &JoinStream{}
	case TypeLeaveStream:
		msg = &LeaveStream{}
	case TypeChatMessage:
		msg = &ChatMessage{}
	case TypeStreamLike:
		msg = &StreamLike{}
	case TypeViewerCount:
		msg = &ViewerCountRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := decodePayload(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}

	if m, ok := msg.(*JoinStream); ok && (m.UserID == "" || m.StreamID == "") {
		return nil, ErrInvalidJoin
	}
	return msg, nil
}

// EncodeInbound serializes a client message. Used by viewers.
func EncodeInbound(msg Inbound) ([]byte, error) {
	return encode(msg.MessageType(), msg)
}

// Encode serializes an outbound event into a complete envelope.
func Encode(msg Outbound) ([]byte, error) {
	return encode(msg.MessageType(), msg)
}

// DecodeOutbound parses one hub frame into its Outbound variant. The
// returned value is one of Joined, ViewerCount, ViewerJoined,
// ChatMessageEvent or StreamLikeEvent (not pointers).
func DecodeOutbound(data []byte) (Outbound, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoined:
		return decodeAs[Joined](env)
	case TypeViewerCount:
		return decodeAs[ViewerCount](env)
	case TypeViewerJoined:
		return decodeAs[ViewerJoined](env)
	case TypeChatMessage:
		return decodeAs[ChatMessageEvent](env)
	case TypeStreamLike:
		return decodeAs[StreamLikeEvent](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// --- helpers ----------------------------------------------------------------

func encode(t Type, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
	}
	data, err := json.Marshal(Envelope{Type: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s envelope: %w", t, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// decodePayload unmarshals raw into v. An absent or null payload leaves v
// at its zero value.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func decodeAs[T Outbound](env *Envelope) (Outbound, error) {
	var m T
	if err := decodePayload(env.Payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return m, nil
}
