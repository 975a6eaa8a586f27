package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// EventHandler receives session lifecycle and inbound events. All calls for
// one session are made from that session's reader goroutine, in order.
type EventHandler interface {
	// HandleConnect runs once the namespace connect completes and before any
	// event of the session is delivered.
	HandleConnect(ctx context.Context, sessionID string) error
	// HandleEvent receives the first argument of an event; nil if absent.
	HandleEvent(ctx context.Context, sessionID, event string, data json.RawMessage) error
	// HandleDisconnect runs once for every session that connected.
	HandleDisconnect(ctx context.Context, sessionID string)
}

// SessionState is the lifecycle state of a session.
type SessionState int32

const (
	// StateConnected: websocket upgraded, namespace not yet joined.
	StateConnected SessionState = iota
	// StateActive: namespace joined, events flow both ways.
	StateActive
	// StateClosed: connection gone.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo represents information about a connected session
type SessionInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	EngineVersion int       `json:"engineVersion"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	RemoteAddr    string    `json:"remoteAddr"`
	Idle          bool      `json:"idle"`
}

// Session is one simulator connection.
type Session struct {
	ID            string
	Conn          *websocket.Conn
	EngineVersion int
	ConnectedAt   time.Time
	RemoteAddr    string

	state        atomic.Int32
	activated    atomic.Bool
	lastActivity atomic.Int64

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, conn *websocket.Conn, version int, remoteAddr string, writeTimeout time.Duration) *Session {
	now := time.Now()
	s := &Session{
		ID:            id,
		Conn:          conn,
		EngineVersion: version,
		ConnectedAt:   now,
		RemoteAddr:    remoteAddr,
		writeTimeout:  writeTimeout,
		done:          make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// State returns the session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// activate moves a connected session to active. It reports false if the
// session was not in StateConnected.
func (s *Session) activate() bool {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateActive)) {
		return false
	}
	s.activated.Store(true)
	return true
}

// Activated reports whether the session ever became active, even if it has
// since been closed.
func (s *Session) Activated() bool {
	return s.activated.Load()
}

// LastActivity returns the time of the last inbound packet.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// WriteText writes one text frame. Writes are serialized per session.
func (s *Session) WriteText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		_ = s.Conn.Close()
	})
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot of the session.
func (s *Session) Info(now time.Time, idleAfter time.Duration) SessionInfo {
	last := s.LastActivity()
	return SessionInfo{
		ID:            s.ID,
		State:         s.State().String(),
		EngineVersion: s.EngineVersion,
		ConnectedAt:   s.ConnectedAt,
		LastActivity:  last,
		RemoteAddr:    s.RemoteAddr,
		Idle:          idleAfter > 0 && now.Sub(last) > idleAfter,
	}
}
