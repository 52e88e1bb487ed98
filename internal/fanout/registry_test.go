package fanout

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/logging"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Path:           "/ws",
		MaxMessageSize: 4096,
		PingInterval:   30,
		PongTimeout:    10,
		WriteTimeout:   5,
		SendBuffer:     8,
	}
}

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.done
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if messageType == websocket.TextMessage {
		c.writes = append(c.writes, data)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drain reads everything currently queued on s.
func drain(s *Session) []string {
	var out []string
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(testWSConfig(), logging.Discard())
}

type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func TestRegister_SendsConnectedAckFirst(t *testing.T) {
	r := newTestRegistry()
	s := r.NewSession(newFakeConn(), "127.0.0.1:5000")

	if err := r.Register(s); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Broadcast(envelope{Topic: "rfid/t/card/status", Data: json.RawMessage(`{"a":1}`)}); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	got := drain(s)
	want := []string{
		`{"message":"Connected to real-time updates"}`,
		`{"topic":"rfid/t/card/status","data":{"a":1}}`,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("queued = %v, want %v", got, want)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegister_Errors(t *testing.T) {
	r := newTestRegistry()
	s := r.NewSession(newFakeConn(), "")

	if err := r.Register(s); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(s); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("second Register() error = %v, want ErrDuplicateSession", err)
	}

	r.Close()
	if err := r.Register(r.NewSession(newFakeConn(), "")); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Register() after Close error = %v, want ErrRegistryClosed", err)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := newTestRegistry()
	s := r.NewSession(newFakeConn(), "")
	_ = r.Register(s)

	r.Unregister(s)
	r.Unregister(s)

	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
	if s.State() != SessionClosing {
		t.Errorf("State() = %v, want closing", s.State())
	}
	if s.enqueue([]byte("x")) {
		t.Error("enqueue() succeeded on unregistered session")
	}
}

func TestBroadcast_EvictsFullSessionOnly(t *testing.T) {
	r := newTestRegistry()

	// Slow session: room for the ack and one frame.
	slowConn := newFakeConn()
	slow := newSession(slowConn, "slow", 2)
	fast1 := r.NewSession(newFakeConn(), "fast1")
	fast2 := r.NewSession(newFakeConn(), "fast2")

	for _, s := range []*Session{slow, fast1, fast2} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	res, _ := r.Broadcast(map[string]int{"n": 1})
	if res.Delivered != 3 || res.Evicted != 0 {
		t.Fatalf("first Broadcast() = %+v, want 3 delivered", res)
	}

	res, _ = r.Broadcast(map[string]int{"n": 2})
	if res.Delivered != 2 || res.Evicted != 1 {
		t.Fatalf("second Broadcast() = %+v, want 2 delivered 1 evicted", res)
	}

	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if slow.State() != SessionClosed {
		t.Errorf("slow State() = %v, want closed", slow.State())
	}
	if !slowConn.isClosed() {
		t.Error("slow transport not closed")
	}

	for _, s := range []*Session{fast1, fast2} {
		got := drain(s)
		if len(got) != 3 || got[1] != `{"n":1}` || got[2] != `{"n":2}` {
			t.Errorf("session %s queued %v, want ack then n=1, n=2", s.RemoteAddr, got)
		}
	}

	if st := r.Stats(); st.Evicted != 1 || st.Registered != 3 || st.Sessions != 2 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestBroadcast_NoSessions(t *testing.T) {
	r := newTestRegistry()
	res, err := r.Broadcast(map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res != (BroadcastResult{}) {
		t.Errorf("Broadcast() = %+v, want zero", res)
	}
}

func TestBroadcast_MarshalError(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Broadcast(make(chan int)); err == nil {
		t.Error("Broadcast() expected marshal error")
	}
}

func TestClose_ClosesAllSessions(t *testing.T) {
	r := newTestRegistry()
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, c := range conns {
		_ = r.Register(r.NewSession(c, ""))
	}

	r.Close()

	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
	for i, c := range conns {
		if !c.isClosed() {
			t.Errorf("conn %d not closed", i)
		}
	}
}

func TestServe_WritePumpDeliversInOrder(t *testing.T) {
	r := newTestRegistry()
	conn := newFakeConn()

	s, err := r.Serve(conn, "")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	for i := 1; i <= 3; i++ {
		_, _ = r.Broadcast(map[string]int{"n": i})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		n := len(conn.writes)
		conn.mu.Unlock()
		if n == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.mu.Lock()
	got := make([]string, len(conn.writes))
	for i, w := range conn.writes {
		got[i] = string(w)
	}
	conn.mu.Unlock()

	want := []string{`{"message":"Connected to real-time updates"}`, `{"n":1}`, `{"n":2}`, `{"n":3}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("writes = %v, want %v", got, want)
	}

	// Transport failure on read unregisters the session.
	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for r.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after transport close, want 0", r.Count())
	}
	if s.State() == SessionOpen {
		t.Error("session still open after transport close")
	}
}

// =============================================================================
// Real WebSocket round trip
// =============================================================================

func newWSServer(t *testing.T, r *Registry) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		if _, err := r.Serve(conn, req.RemoteAddr); err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return string(msg)
}

func waitForCount(t *testing.T, r *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count() = %d, want %d", r.Count(), want)
}

func TestWebSocket_LateJoinerGetsNoReplay(t *testing.T) {
	r := newTestRegistry()
	srv := newWSServer(t, r)

	a := dial(t, srv)
	if got := readFrame(t, a); got != `{"message":"Connected to real-time updates"}` {
		t.Fatalf("A first frame = %s", got)
	}
	waitForCount(t, r, 1)

	first := envelope{Topic: "rfid/t/card/status", Data: json.RawMessage(`{"uid":"A1","present":true}`)}
	_, _ = r.Broadcast(first)
	if got := readFrame(t, a); got != `{"topic":"rfid/t/card/status","data":{"uid":"A1","present":true}}` {
		t.Errorf("A frame = %s", got)
	}

	b := dial(t, srv)
	if got := readFrame(t, b); got != `{"message":"Connected to real-time updates"}` {
		t.Fatalf("B first frame = %s", got)
	}
	waitForCount(t, r, 2)

	second := envelope{Topic: "rfid/t/card/balance", Data: json.RawMessage(`{"uid":"A1","balance":5}`)}
	_, _ = r.Broadcast(second)

	want := `{"topic":"rfid/t/card/balance","data":{"uid":"A1","balance":5}}`
	if got := readFrame(t, a); got != want {
		t.Errorf("A frame = %s, want %s", got, want)
	}
	if got := readFrame(t, b); got != want {
		t.Errorf("B frame = %s, want %s (no replay of earlier message)", got, want)
	}
}

func TestWebSocket_ClientFramesDiscarded(t *testing.T) {
	r := newTestRegistry()
	srv := newWSServer(t, r)

	conn := dial(t, srv)
	_ = readFrame(t, conn)
	waitForCount(t, r, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"anything"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	_, _ = r.Broadcast(map[string]string{"still": "here"})
	if got := readFrame(t, conn); got != `{"still":"here"}` {
		t.Errorf("frame = %s", got)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	r := newTestRegistry()
	srv := newWSServer(t, r)

	conn := dial(t, srv)
	_ = readFrame(t, conn)
	waitForCount(t, r, 1)

	conn.Close()
	waitForCount(t, r, 0)
}

func TestSessionStateString(t *testing.T) {
	tests := map[SessionState]string{
		SessionOpen:     "open",
		SessionClosing:  "closing",
		SessionClosed:   "closed",
		SessionState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
