package ws

import (
	"errors"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/fanstage/fanstage/pkg/protocol"
)

// Rejection reasons, used as the "reason" label on rejected-message counters.
const (
	reasonMalformed     = "malformed"
	reasonUnknownType   = "unknown_type"
	reasonInvalidJoin   = "invalid_join"
	reasonTooLong       = "too_long"
	reasonNotJoined     = "not_joined"
	reasonUserMismatch  = "user_mismatch"
	reasonUnauthorized  = "unauthorized"
	reasonUnknownConn   = "unknown_connection"
	reasonEncodeFailure = "encode_failure"
)

// conn is the hub's record of one accepted transport connection.
// userID and streamID are empty until a join_stream is accepted.
type conn struct {
	id        string
	t         Transport
	userID    string
	streamID  string
	isCreator bool
}

// counters accumulates message and delivery totals for Stats.
type counters struct {
	received map[protocol.Type]uint64
	rejected map[string]uint64
	sent     uint64
	skipped  uint64
	dropped  uint64
}

// registry holds the connection table and the stream membership sets and
// implements every message handler. It is owned by the hub's Run goroutine
// and is not safe for concurrent use.
type registry struct {
	conns   map[string]*conn
	streams map[string]map[string]struct{} // streamID -> set of connection IDs

	limits   Limits
	verifier JoinVerifier
	now      func() time.Time // injectable for deterministic tests
	stats    counters
}

func newRegistry(limits Limits, verifier JoinVerifier) *registry {
	return &registry{
		conns:    make(map[string]*conn),
		streams:  make(map[string]map[string]struct{}),
		limits:   limits,
		verifier: verifier,
		now:      time.Now,
		stats: counters{
			received: make(map[protocol.Type]uint64),
			rejected: make(map[string]uint64),
		},
	}
}

// --- lifecycle --------------------------------------------------------------

func (r *registry) connect(id string, t Transport) {
	if _, ok := r.conns[id]; ok {
		return
	}
	r.conns[id] = &conn{id: id, t: t}
	slog.Debug("hub: connection registered", "conn", id, "connections", len(r.conns))
}

// disconnect is an implicit leave followed by removal of the record.
// Unknown IDs are ignored, so repeated calls are harmless.
func (r *registry) disconnect(id string) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	r.leave(c)
	delete(r.conns, id)
	c.t.Close()
	slog.Debug("hub: connection removed", "conn", id, "connections", len(r.conns))
}

// closeAll closes every transport and forgets all state. Used on shutdown.
func (r *registry) closeAll() {
	for id, c := range r.conns {
		c.t.Close()
		delete(r.conns, id)
	}
	for sid := range r.streams {
		delete(r.streams, sid)
	}
}

// --- dispatch ---------------------------------------------------------------

func (r *registry) receive(id string, raw []byte) {
	c, ok := r.conns[id]
	if !ok {
		r.reject(reasonUnknownConn)
		slog.Debug("hub: message for unknown connection", "conn", id)
		return
	}

	msg, err := protocol.DecodeInbound(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			r.reject(reasonUnknownType)
			slog.Info("hub: ignored unknown message type", "conn", id, "err", err)
			return
		}
		r.reject(rejectReason(err))
		slog.Warn("hub: dropped malformed message", "conn", id, "err", err)
		return
	}
	r.stats.received[msg.MessageType()]++

	switch m := msg.(type) {
	case *protocol.JoinStream:
		r.join(c, m)
	case *protocol.LeaveStream:
		r.leave(c)
	case *protocol.ChatMessage:
		r.chat(c, m)
	case *protocol.StreamLike:
		r.like(c)
	case *protocol.ViewerCountRequest:
		r.replyViewerCount(c, m)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidJoin):
		return reasonInvalidJoin
	default:
		return reasonMalformed
	}
}

func (r *registry) reject(reason string) {
	r.stats.rejected[reason]++
}

// --- handlers ---------------------------------------------------------------

func (r *registry) join(c *conn, m *protocol.JoinStream) {
	if c.streamID != "" && c.userID != m.UserID {
		r.reject(reasonUserMismatch)
		slog.Warn("hub: join rejected, connection bound to another user",
			"conn", c.id, "bound_user", c.userID, "user", m.UserID)
		return
	}
	if r.verifier != nil {
		if err := r.verifier.Verify(m.Token, m.UserID, m.StreamID); err != nil {
			r.reject(reasonUnauthorized)
			slog.Warn("hub: join rejected, token verification failed",
				"conn", c.id, "user", m.UserID, "stream", m.StreamID, "err", err)
			return
		}
	}

	// Re-joining the current stream only repeats the acknowledgement.
	if c.streamID == m.StreamID {
		c.isCreator = m.IsCreator
		r.send(c, protocol.Joined{StreamID: m.StreamID, ConnectionID: c.id})
		r.broadcastViewerCount(m.StreamID)
		return
	}
	if c.streamID != "" {
		r.leave(c)
	}

	c.userID = m.UserID
	c.streamID = m.StreamID
	c.isCreator = m.IsCreator

	members, ok := r.streams[m.StreamID]
	if !ok {
		members = make(map[string]struct{})
		r.streams[m.StreamID] = members
	}
	members[c.id] = struct{}{}

	slog.Info("hub: viewer joined",
		"conn", c.id, "user", c.userID, "stream", c.streamID,
		"creator", c.isCreator, "viewers", len(members))

	r.send(c, protocol.Joined{StreamID: m.StreamID, ConnectionID: c.id})
	r.broadcastViewerCount(m.StreamID)
	r.broadcast(m.StreamID, protocol.ViewerJoined{
		UserID:      c.userID,
		ViewerCount: r.viewerCount(m.StreamID),
	}, c.id)
}

// leave detaches c from its stream. A connection that never joined is a no-op.
func (r *registry) leave(c *conn) {
	sid := c.streamID
	if sid == "" {
		return
	}
	c.streamID = ""
	c.userID = ""
	c.isCreator = false

	members, ok := r.streams[sid]
	if !ok {
		return
	}
	delete(members, c.id)
	slog.Info("hub: viewer left", "conn", c.id, "stream", sid, "viewers", len(members))

	if len(members) == 0 {
		delete(r.streams, sid)
		return
	}
	r.broadcastViewerCount(sid)
}

func (r *registry) chat(c *conn, m *protocol.ChatMessage) {
	if c.streamID == "" {
		r.reject(reasonNotJoined)
		slog.Debug("hub: chat before join ignored", "conn", c.id)
		return
	}
	if limit := r.limits.MaxChatLength; limit > 0 && utf8.RuneCountInString(m.Message) > limit {
		r.reject(reasonTooLong)
		slog.Debug("hub: chat over length limit ignored", "conn", c.id, "limit", limit)
		return
	}
	r.broadcast(c.streamID, protocol.ChatMessageEvent{
		UserID:    c.userID,
		Message:   m.Message,
		Timestamp: protocol.Timestamp(r.now()),
	}, "")
}

func (r *registry) like(c *conn) {
	if c.streamID == "" {
		r.reject(reasonNotJoined)
		slog.Debug("hub: like before join ignored", "conn", c.id)
		return
	}
	r.broadcast(c.streamID, protocol.StreamLikeEvent{
		UserID:    c.userID,
		Timestamp: protocol.Timestamp(r.now()),
	}, "")
}

func (r *registry) replyViewerCount(c *conn, m *protocol.ViewerCountRequest) {
	sid := m.StreamID
	if sid == "" {
		sid = c.streamID
	}
	r.send(c, protocol.ViewerCount{ViewerCount: r.viewerCount(sid)})
}

// --- fan-out ----------------------------------------------------------------

func (r *registry) broadcastViewerCount(streamID string) {
	r.broadcast(streamID, protocol.ViewerCount{ViewerCount: r.viewerCount(streamID)}, "")
}

// broadcast delivers ev to every member of streamID except exclude.
// The event is encoded once and shared by all recipients.
func (r *registry) broadcast(streamID string, ev protocol.Outbound, exclude string) {
	members, ok := r.streams[streamID]
	if !ok {
		return
	}
	data, err := protocol.Encode(ev)
	if err != nil {
		r.reject(reasonEncodeFailure)
		slog.Error("hub: encode event", "type", ev.MessageType(), "err", err)
		return
	}
	for id := range members {
		if id == exclude {
			continue
		}
		if c, ok := r.conns[id]; ok {
			r.deliver(c, data)
		}
	}
}

func (r *registry) send(c *conn, ev protocol.Outbound) {
	data, err := protocol.Encode(ev)
	if err != nil {
		r.reject(reasonEncodeFailure)
		slog.Error("hub: encode event", "type", ev.MessageType(), "err", err)
		return
	}
	r.deliver(c, data)
}

// deliver hands data to the transport if it is open. A closed transport is
// skipped and left in place: its own close notification removes it.
func (r *registry) deliver(c *conn, data []byte) {
	if !c.t.Open() {
		r.stats.skipped++
		return
	}
	if !trySend(c, data) {
		r.stats.dropped++
		slog.Debug("hub: event dropped", "conn", c.id)
		return
	}
	r.stats.sent++
}

// trySend reports a panicking transport as a failed send, so one broken
// connection cannot cut a broadcast short for the rest of the stream.
func trySend(c *conn, data []byte) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("hub: transport panicked on send", "conn", c.id, "panic", p)
			ok = false
		}
	}()
	return c.t.Send(data)
}

// --- reads ------------------------------------------------------------------

func (r *registry) viewerCount(streamID string) int {
	return len(r.streams[streamID])
}

func (r *registry) activeStreams() []StreamSummary {
	out := make([]StreamSummary, 0, len(r.streams))
	for sid, members := range r.streams {
		out = append(out, StreamSummary{StreamID: sid, ViewerCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViewerCount != out[j].ViewerCount {
			return out[i].ViewerCount > out[j].ViewerCount
		}
		return out[i].StreamID < out[j].StreamID
	})
	return out
}

func (r *registry) snapshot() Stats {
	st := Stats{
		Connections: len(r.conns),
		Viewers:     make(map[string]int, len(r.streams)),
		Received:    make(map[protocol.Type]uint64, len(r.stats.received)),
		Rejected:    make(map[string]uint64, len(r.stats.rejected)),
		Sent:        r.stats.sent,
		Skipped:     r.stats.skipped,
		Dropped:     r.stats.dropped,
	}
	for sid, members := range r.streams {
		st.Viewers[sid] = len(members)
	}
	for t, n := range r.stats.received {
		st.Received[t] = n
	}
	for reason, n := range r.stats.rejected {
		st.Rejected[reason] = n
	}
	return st
}
