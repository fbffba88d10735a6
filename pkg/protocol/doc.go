// Package protocol defines the JSON wire format spoken between browser or
// terminal viewers and the fanstage live hub.
//
// Every frame in either direction is one envelope:
//
//	{ "type": "<message type>", "payload": { ... } }
//
// Inbound (client → hub): join_stream, leave_stream, chat_message,
// stream_like, viewer_count.
// Outbound (hub → client): joined, viewer_count, viewer_joined,
// chat_message, stream_like.
//
// Both directions are closed sets. DecodeInbound returns one of the Inbound
// variants or a wrapped sentinel error (ErrMalformed, ErrUnknownType or
// ErrInvalidJoin); callers switch on the concrete type. Chat text is passed
// through as sent.
// Encode serializes an Outbound variant; DecodeOutbound is its inverse and
// is used by viewers.
package protocol
