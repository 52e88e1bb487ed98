package fanout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionState is the liveness of a dashboard session.
type SessionState int

const (
	// SessionOpen: accepting frames.
	SessionOpen SessionState = iota

	// SessionClosing: unregistered, queue closed, writer draining.
	SessionClosing

	// SessionClosed: transport closed.
	SessionClosed
)

// String returns the lower-case state name.
func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn a session drives.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Session is one connected dashboard.
//
// Frames are delivered through a bounded FIFO queue drained by the session's
// write pump. Enqueueing never blocks: a full queue is reported to the
// caller, which evicts the session.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn Conn
	send chan []byte

	mu    sync.Mutex
	state SessionState
}

// newSession creates an Open session with a queue of the given length.
func newSession(conn Conn, remoteAddr string, buffer int) *Session {
	if buffer < 1 {
		buffer = 1
	}
	return &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		state:       SessionOpen,
	}
}

// State returns the session's liveness state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enqueue offers data to the queue without blocking.
// Returns false if the session is not Open or its queue is full.
func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// closeQueue moves an Open session to Closing and closes its queue.
// Returns false if it was already closing or closed.
func (s *Session) closeQueue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return false
	}
	s.state = SessionClosing
	close(s.send)
	return true
}

// closeConn closes the transport and marks the session Closed.
func (s *Session) closeConn() {
	s.mu.Lock()
	if s.state == SessionOpen {
		s.state = SessionClosing
		close(s.send)
	}
	s.state = SessionClosed
	s.mu.Unlock()

	_ = s.conn.Close() //nolint:errcheck // best-effort close
}
