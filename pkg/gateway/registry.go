package gateway

import (
	"sync"
	"time"
)

// SessionRegistry manages connected sessions
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates a new session registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Add adds a session to the registry
func (r *SessionRegistry) Add(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
}

// Remove removes a session from the registry
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
}

// Get retrieves a session by ID
func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	return session, exists
}

// GetAll returns all sessions
func (r *SessionRegistry) GetAll() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// GetActive returns sessions that completed the namespace connect
func (r *SessionRegistry) GetActive() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session.State() == StateActive {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Count returns the number of registered sessions
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Infos returns a snapshot of every session. Sessions silent for longer than
// idleAfter are flagged idle.
func (r *SessionRegistry) Infos(idleAfter time.Duration) []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		infos = append(infos, session.Info(now, idleAfter))
	}
	return infos
}
