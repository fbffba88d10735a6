package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fanstage/fanstage/pkg/protocol"
)

const (
	// DefaultWriteTimeout is the deadline for a single write to a client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPongWait is how long to wait for a pong response before treating
	// the connection as dead.
	DefaultPongWait = 60 * time.Second

	// DefaultSendBuffer is the per-client outgoing message buffer depth.
	DefaultSendBuffer = 64

	// DefaultMaxMessageBytes caps a single inbound frame.
	DefaultMaxMessageBytes = 64 << 10

	// workQueueSize is the depth of the hub's inbound work queue.
	workQueueSize = 256
)

// Transport is the hub's view of one client connection.
//
// Send must not block: it returns false when the message could not be
// queued. Send and Close are only ever called from the hub goroutine.
// Open may turn false at any time once the underlying connection fails.
type Transport interface {
	Open() bool
	Send(msg []byte) bool
	Close()
}

// JoinVerifier authorizes a join_stream request. A nil verifier accepts
// every join.
type JoinVerifier interface {
	Verify(token, userID, streamID string) error
}

// Limits are the hub settings that may change while it runs.
type Limits struct {
	// MaxChatLength is the maximum chat message length in runes. 0 disables
	// the check.
	MaxChatLength int
}

// Options configures a Hub. Zero fields take the package defaults.
type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	PongWait        time.Duration
	WriteTimeout    time.Duration

	// AllowedOrigins restricts the Origin header on upgrade requests.
	// Empty allows any origin.
	AllowedOrigins []string

	Limits       Limits
	JoinVerifier JoinVerifier
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// pingPeriod controls how often the server sends ping frames. It must be
// less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// StreamSummary is one tracked stream and its live viewer count.
type StreamSummary struct {
	StreamID    string `json:"stream_id"`
	ViewerCount int    `json:"viewer_count"`
}

// Stats is a point-in-time copy of the hub's counters.
type Stats struct {
	Connections int
	Viewers     map[string]int // streamID -> viewer count
	Received    map[protocol.Type]uint64
	Rejected    map[string]uint64 // reason -> count
	Sent        uint64
	Skipped     uint64 // transport not open
	Dropped     uint64 // send buffer full or transport failed
}

// Hub tracks which connections watch which stream and fans events out to
// each stream's audience.
//
// All state is owned by the Run goroutine; every public method hands its
// work to that goroutine, so handlers run one at a time in arrival order.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	reg      *registry

	work chan func(*registry)
	done chan struct{}
}

// New creates a Hub. Run must be started before the hub accepts work.
func New(opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		opts: opts,
		reg:  newRegistry(opts.Limits, opts.JoinVerifier),
		work: make(chan func(*registry), workQueueSize),
		done: make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// Run processes hub work until ctx is cancelled, then closes every
// connection. Run must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	slog.Info("hub: started")

	for {
		select {
		case <-ctx.Done():
			h.reg.closeAll()
			slog.Info("hub: stopped")
			return
		case fn := <-h.work:
			h.apply(fn)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Connect registers a new transport and returns its connection ID. It
// returns "" if the hub has stopped.
func (h *Hub) Connect(t Transport) string {
	id := uuid.NewString()
	if !h.submit(func(r *registry) { r.connect(id, t) }) {
		return ""
	}
	return id
}

// Receive hands one raw client frame to the hub.
func (h *Hub) Receive(id string, raw []byte) {
	h.submit(func(r *registry) { r.receive(id, raw) })
}

// Disconnect leaves the connection's stream, if any, and forgets it.
func (h *Hub) Disconnect(id string) {
	h.submit(func(r *registry) { r.disconnect(id) })
}

// ViewerCount returns the number of connections currently joined to
// streamID. Untracked streams report 0.
func (h *Hub) ViewerCount(streamID string) int {
	var n int
	h.query(func(r *registry) { n = r.viewerCount(streamID) })
	return n
}

// ActiveStreams returns every tracked stream, most watched first.
func (h *Hub) ActiveStreams() []StreamSummary {
	out := []StreamSummary{}
	h.query(func(r *registry) { out = r.activeStreams() })
	return out
}

// Count returns the number of registered connections, joined or not.
func (h *Hub) Count() int {
	var n int
	h.query(func(r *registry) { n = len(r.conns) })
	return n
}

// Stats returns a copy of the hub's counters.
func (h *Hub) Stats() Stats {
	var st Stats
	if !h.query(func(r *registry) { st = r.snapshot() }) {
		return Stats{Viewers: map[string]int{}, Received: map[protocol.Type]uint64{}, Rejected: map[string]uint64{}}
	}
	return st
}

// SetLimits replaces the hub's runtime limits.
func (h *Hub) SetLimits(l Limits) {
	h.submit(func(r *registry) { r.limits = l })
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		slog.Debug("hub: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(wsConn, h.opts.SendBuffer)
	id := h.Connect(c)
	if id == "" {
		wsConn.Close()
		return
	}

	go c.writePump(h.opts)
	c.readPump(h.opts, func(msg []byte) { h.Receive(id, msg) }) // blocks until connection closes
	h.Disconnect(id)
}

// --- internal ---------------------------------------------------------------

// submit queues fn for the Run goroutine. It returns false if the hub has
// stopped.
func (h *Hub) submit(fn func(*registry)) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.work <- fn:
		return true
	case <-h.done:
		return false
	}
}

// query runs fn on the Run goroutine and waits for it to finish.
func (h *Hub) query(fn func(*registry)) bool {
	ran := make(chan struct{})
	if !h.submit(func(r *registry) {
		defer close(ran)
		fn(r)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-h.done:
		return false
	}
}

// apply runs one unit of work. A panic is logged and contained so that a
// single bad input cannot stop the hub.
func (h *Hub) apply(fn func(*registry)) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("hub: recovered from panic in handler", "panic", p)
		}
	}()
	fn(h.reg)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		// Allow all origins; callers may apply CORS at the reverse-proxy level.
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
