package protocol

import "encoding/json"

// Type identifies the kind of message carried by an Envelope.
type Type string

const (
	// Inbound only.
	TypeJoinStream  Type = "join_stream"
	TypeLeaveStream Type = "leave_stream"

	// Outbound only.
	TypeJoined       Type = "joined"
	TypeViewerJoined Type = "viewer_joined"

	// Both directions. Inbound chat_message and stream_like carry the
	// client's intent; the outbound variants carry the server-stamped event.
	// An inbound viewer_count asks for the current count.
	TypeChatMessage Type = "chat_message"
	TypeStreamLike  Type = "stream_like"
	TypeViewerCount Type = "viewer_count"
)

// TimestampLayout is the layout of every timestamp the hub emits: UTC,
// millisecond precision, literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the top-level wire message. Payload is decoded in a second
// pass based on Type.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Inbound ----------------------------------------------------------------

// Inbound is implemented by every message a client may send to the hub.
// The set is closed: only this package can add variants.
type Inbound interface {
	MessageType() Type
	inbound()
}

// JoinStream binds the connection to a viewer and a stream.
type JoinStream struct {
	UserID    string `json:"userId"`
	StreamID  string `json:"streamId"`
	IsCreator bool   `json:"isCreator,omitempty"`

	// Token is a signed join token. Only checked when the hub runs with
	// join authentication enabled.
	Token string `json:"token,omitempty"`
}

// LeaveStream detaches the connection from its current stream.
type LeaveStream struct{}

// ChatMessage asks the hub to broadcast a chat line to the sender's stream.
type ChatMessage struct {
	Message string `json:"message"`
}

// StreamLike asks the hub to broadcast a like to the sender's stream.
type StreamLike struct{}

// ViewerCountRequest asks for the viewer count of StreamID, or of the
// sender's own stream when StreamID is empty.
type ViewerCountRequest struct {
	StreamID string `json:"streamId,omitempty"`
}

func (*JoinStream) MessageType() Type         { return TypeJoinStream }
func (*LeaveStream) MessageType() Type        { return TypeLeaveStream }
func (*ChatMessage) MessageType() Type        { return TypeChatMessage }
func (*StreamLike) MessageType() Type         { return TypeStreamLike }
func (*ViewerCountRequest) MessageType() Type { return TypeViewerCount }

func (*JoinStream) inbound()         {}
func (*LeaveStream) inbound()        {}
func (*ChatMessage) inbound()        {}
func (*StreamLike) inbound()         {}
func (*ViewerCountRequest) inbound() {}

// --- Outbound ---------------------------------------------------------------

// Outbound is implemented by every event the hub sends to clients.
type Outbound interface {
	MessageType() Type
}

// Joined acknowledges a join_stream to the joining connection only.
type Joined struct {
	StreamID     string `json:"streamId"`
	ConnectionID string `json:"connectionId"`
}

// ViewerCount carries the live membership count of a stream.
type ViewerCount struct {
	ViewerCount int `json:"viewerCount"`
}

// ViewerJoined tells existing members that someone joined.
type ViewerJoined struct {
	UserID      string `json:"userId"`
	ViewerCount int    `json:"viewerCount"`
}

// ChatMessageEvent is a chat line as delivered to every member, sender included.
type ChatMessageEvent struct {
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// StreamLikeEvent is a like as delivered to every member, sender included.
type StreamLikeEvent struct {
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

func (Joined) MessageType() Type           { return TypeJoined }
func (ViewerCount) MessageType() Type      { return TypeViewerCount }
func (ViewerJoined) MessageType() Type     { return TypeViewerJoined }
func (ChatMessageEvent) MessageType() Type { return TypeChatMessage }
func (StreamLikeEvent) MessageType() Type  { return TypeStreamLike }
