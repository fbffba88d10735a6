package ws_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fanstage/fanstage/pkg/protocol"
	wsHub "github.com/fanstage/fanstage/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cancel function.
func startHub(t *testing.T, opts wsHub.Options) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(opts)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads one hub event from conn with a short deadline.
func readEvent(t *testing.T, conn *websocket.Conn) protocol.Outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	ev, err := protocol.DecodeOutbound(msg)
	if err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	return ev
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Inbound) {
	t.Helper()
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_JoinChatDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, wsHub.Options{})

	a := dial(t, wsURL)
	send(t, a, &protocol.JoinStream{UserID: "u1", StreamID: "s1"})

	joined, ok := readEvent(t, a).(protocol.Joined)
	if !ok {
		t.Fatal("A: first event is not joined")
	}
	if joined.StreamID != "s1" || joined.ConnectionID == "" {
		t.Errorf("A joined: got %+v", joined)
	}
	if ev := readEvent(t, a); ev != (protocol.ViewerCount{ViewerCount: 1}) {
		t.Errorf("A: got %+v, want viewer_count 1", ev)
	}

	b := dial(t, wsURL)
	send(t, b, &protocol.JoinStream{UserID: "u2", StreamID: "s1"})

	if ev := readEvent(t, a); ev != (protocol.ViewerCount{ViewerCount: 2}) {
		t.Errorf("A: got %+v, want viewer_count 2", ev)
	}
	if ev := readEvent(t, a); ev != (protocol.ViewerJoined{UserID: "u2", ViewerCount: 2}) {
		t.Errorf("A: got %+v, want viewer_joined u2", ev)
	}
	if _, ok := readEvent(t, b).(protocol.Joined); !ok {
		t.Error("B: first event is not joined")
	}
	if ev := readEvent(t, b); ev != (protocol.ViewerCount{ViewerCount: 2}) {
		t.Errorf("B: got %+v, want viewer_count 2", ev)
	}
	if n := hub.ViewerCount("s1"); n != 2 {
		t.Errorf("ViewerCount: got %d, want 2", n)
	}

	send(t, b, &protocol.ChatMessage{Message: "hi"})
	for name, conn := range map[string]*websocket.Conn{"A": a, "B": b} {
		chat, ok := readEvent(t, conn).(protocol.ChatMessageEvent)
		if !ok {
			t.Fatalf("%s: event is not chat_message", name)
		}
		if chat.UserID != "u2" || chat.Message != "hi" {
			t.Errorf("%s chat: got %+v", name, chat)
		}
		if _, err := time.Parse(protocol.TimestampLayout, chat.Timestamp); err != nil {
			t.Errorf("%s chat timestamp %q: %v", name, chat.Timestamp, err)
		}
	}

	b.Close()
	if ev := readEvent(t, a); ev != (protocol.ViewerCount{ViewerCount: 1}) {
		t.Errorf("A after B left: got %+v, want viewer_count 1", ev)
	}
	if n := hub.ViewerCount("s1"); n != 1 {
		t.Errorf("ViewerCount after disconnect: got %d, want 1", n)
	}
}

func TestHub_ViewerCountRequest(t *testing.T) {
	wsURL, _, _ := startHub(t, wsHub.Options{})

	a := dial(t, wsURL)
	send(t, a, &protocol.JoinStream{UserID: "u1", StreamID: "s1"})
	readEvent(t, a) // joined
	readEvent(t, a) // viewer_count

	lurker := dial(t, wsURL)
	send(t, lurker, &protocol.ViewerCountRequest{StreamID: "s1"})
	if ev := readEvent(t, lurker); ev != (protocol.ViewerCount{ViewerCount: 1}) {
		t.Errorf("lurker: got %+v, want viewer_count 1", ev)
	}
}

func TestHub_CountClients_MultipleClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, wsHub.Options{})

	for i := 0; i < 3; i++ {
		dial(t, wsURL)
	}

	waitFor(t, "3 clients", func() bool { return hub.Count() == 3 })
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, wsHub.Options{})

	conn := dial(t, wsURL)
	waitFor(t, "client registered", func() bool { return hub.Count() == 1 })

	conn.Close()
	waitFor(t, "client removed", func() bool { return hub.Count() == 0 })
}

func TestHub_ActiveStreams(t *testing.T) {
	wsURL, hub, _ := startHub(t, wsHub.Options{})

	for i, sid := range []string{"quiet", "busy", "busy"} {
		conn := dial(t, wsURL)
		send(t, conn, &protocol.JoinStream{UserID: fmt.Sprintf("u%d", i), StreamID: sid})
	}

	waitFor(t, "three viewers", func() bool {
		return hub.ViewerCount("busy") == 2 && hub.ViewerCount("quiet") == 1
	})
	got := hub.ActiveStreams()
	want := []wsHub.StreamSummary{
		{StreamID: "busy", ViewerCount: 2},
		{StreamID: "quiet", ViewerCount: 1},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ActiveStreams: got %+v, want %+v", got, want)
	}
}

func TestHub_OversizeFrameClosesConnection(t *testing.T) {
	wsURL, hub, _ := startHub(t, wsHub.Options{MaxMessageBytes: 128})

	conn := dial(t, wsURL)
	send(t, conn, &protocol.JoinStream{UserID: "u1", StreamID: "s1"})
	readEvent(t, conn)
	readEvent(t, conn)

	send(t, conn, &protocol.ChatMessage{Message: strings.Repeat("x", 200)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("ReadMessage: want error after oversize frame")
	}
	waitFor(t, "stream emptied", func() bool { return hub.ViewerCount("s1") == 0 })
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, wsHub.Options{})

	conn := dial(t, wsURL)
	waitFor(t, "client registered", func() bool { return hub.Count() == 1 })

	cancel() // signal shutdown

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage: want error after shutdown")
	}
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_ConnectAfterStop(t *testing.T) {
	hub := wsHub.New(wsHub.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	if id := hub.Connect(&memTransport{}); id != "" {
		t.Errorf("Connect after stop: got %q, want empty", id)
	}
	if n := hub.ViewerCount("s1"); n != 0 {
		t.Errorf("ViewerCount after stop: got %d, want 0", n)
	}
	if st := hub.Stats(); st.Viewers == nil {
		t.Error("Stats after stop: want non-nil maps")
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(wsHub.Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers -> 400
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHub_AllowedOrigins(t *testing.T) {
	wsURL, _, _ := startHub(t, wsHub.Options{AllowedOrigins: []string{"https://fanstage.example"}})

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err == nil {
		t.Fatal("dial with foreign origin: want error")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin: want 403, got %v", resp)
	}

	h.Set("Origin", "https://fanstage.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	conn.Close()
}

// memTransport is a Transport used without a socket.
type memTransport struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (m *memTransport) Open() bool { return true }
func (m *memTransport) Close()     {}

func (m *memTransport) Send(msg []byte) bool {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return true
}

func (m *memTransport) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// event decodes the i-th message sent to m.
func (m *memTransport) event(t *testing.T, i int) protocol.Outbound {
	t.Helper()
	m.mu.Lock()
	raw := m.msgs[i]
	m.mu.Unlock()
	ev, err := protocol.DecodeOutbound(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return ev
}

// panicTransport panics on every Send.
type panicTransport struct{}

func (panicTransport) Open() bool       { return true }
func (panicTransport) Close()           {}
func (panicTransport) Send([]byte) bool { panic("send on broken transport") }

// panicVerifier panics when asked about user "boom".
type panicVerifier struct{}

func (panicVerifier) Verify(token, userID, streamID string) error {
	if userID == "boom" {
		panic("verifier failure")
	}
	return nil
}

func encodeInbound(t *testing.T, msg protocol.Inbound) []byte {
	t.Helper()
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestHub_PanickingTransportDoesNotStopFanOut(t *testing.T) {
	_, hub, _ := startHub(t, wsHub.Options{})

	good := &memTransport{}
	goodID := hub.Connect(good)
	badID := hub.Connect(panicTransport{})

	hub.Receive(goodID, encodeInbound(t, &protocol.JoinStream{UserID: "u1", StreamID: "s1"}))
	hub.Receive(badID, encodeInbound(t, &protocol.JoinStream{UserID: "u2", StreamID: "s1"}))
	if n := hub.ViewerCount("s1"); n != 2 {
		t.Fatalf("ViewerCount: got %d, want 2", n)
	}
	// joined, viewer_count 1, viewer_count 2, viewer_joined u2
	if n := good.len(); n != 4 {
		t.Fatalf("events after joins: got %d, want 4", n)
	}

	hub.Receive(badID, encodeInbound(t, &protocol.ChatMessage{Message: "hi"}))
	hub.Receive(goodID, encodeInbound(t, &protocol.ChatMessage{Message: "still here"}))
	if n := hub.ViewerCount("s1"); n != 2 {
		t.Fatalf("ViewerCount after chat: got %d, want 2", n)
	}
	if n := good.len(); n != 6 {
		t.Fatalf("events after chat: got %d, want 6", n)
	}
	if ev, ok := good.event(t, 4).(protocol.ChatMessageEvent); !ok || ev.UserID != "u2" || ev.Message != "hi" {
		t.Errorf("event 4: got %+v, want chat from u2", good.event(t, 4))
	}
	if ev, ok := good.event(t, 5).(protocol.ChatMessageEvent); !ok || ev.UserID != "u1" || ev.Message != "still here" {
		t.Errorf("event 5: got %+v, want chat from u1", good.event(t, 5))
	}

	hub.Disconnect(badID)
	if n := hub.ViewerCount("s1"); n != 1 {
		t.Errorf("ViewerCount after disconnect: got %d, want 1", n)
	}
	if st := hub.Stats(); st.Dropped == 0 {
		t.Error("Stats.Dropped: got 0, want failed sends counted")
	}
}

func TestHub_PanicInHandlerIsContained(t *testing.T) {
	_, hub, _ := startHub(t, wsHub.Options{JoinVerifier: panicVerifier{}})

	a := &memTransport{}
	b := &memTransport{}
	aID := hub.Connect(a)
	bID := hub.Connect(b)

	hub.Receive(bID, encodeInbound(t, &protocol.JoinStream{UserID: "boom", StreamID: "s1"}))
	if n := hub.ViewerCount("s1"); n != 0 {
		t.Fatalf("ViewerCount after panicking join: got %d, want 0", n)
	}
	if n := b.len(); n != 0 {
		t.Errorf("B events after panicking join: got %d, want 0", n)
	}

	// The loop is still running and the panicking connection is still usable.
	hub.Receive(aID, encodeInbound(t, &protocol.JoinStream{UserID: "u1", StreamID: "s1"}))
	hub.Receive(bID, encodeInbound(t, &protocol.JoinStream{UserID: "u2", StreamID: "s1"}))
	hub.Receive(aID, encodeInbound(t, &protocol.ChatMessage{Message: "hello"}))
	if n := hub.ViewerCount("s1"); n != 2 {
		t.Fatalf("ViewerCount: got %d, want 2", n)
	}
	// B: joined, viewer_count 2, chat
	if n := b.len(); n != 3 {
		t.Fatalf("B events: got %d, want 3", n)
	}
	if ev, ok := b.event(t, 2).(protocol.ChatMessageEvent); !ok || ev.Message != "hello" {
		t.Errorf("B last event: got %+v, want chat hello", b.event(t, 2))
	}
	if n := hub.Count(); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
}

func TestHub_ConcurrentSubmitters(t *testing.T) {
	_, hub, _ := startHub(t, wsHub.Options{})

	const viewers = 20
	transports := make([]*memTransport, viewers)
	ids := make([]string, viewers)
	for i := range transports {
		transports[i] = &memTransport{}
		ids[i] = hub.Connect(transports[i])
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			join, _ := protocol.EncodeInbound(&protocol.JoinStream{UserID: fmt.Sprintf("u%d", i), StreamID: "s1"})
			like, _ := protocol.EncodeInbound(&protocol.StreamLike{})
			hub.Receive(id, join)
			hub.Receive(id, like)
		}(i, id)
	}
	wg.Wait()

	if n := hub.ViewerCount("s1"); n != viewers {
		t.Fatalf("ViewerCount: got %d, want %d", n, viewers)
	}

	for i := 0; i < viewers/2; i++ {
		hub.Disconnect(ids[i])
	}
	if n := hub.ViewerCount("s1"); n != viewers/2 {
		t.Errorf("ViewerCount after disconnects: got %d, want %d", n, viewers/2)
	}
	st := hub.Stats()
	if st.Received[protocol.TypeStreamLike] != viewers {
		t.Errorf("likes received: got %d, want %d", st.Received[protocol.TypeStreamLike], viewers)
	}
	if transports[viewers-1].len() == 0 {
		t.Error("last viewer received nothing")
	}
}
