package session

import (
	"log/slog"
	"sync"
)

// Store maps connection ids to sessions. Created on connect, destroyed on
// disconnect; nothing here survives the process.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a fresh session for a connection id, replacing (and
// closing) any stale entry under the same id.
func (st *Store) Create(connectionID string) *Session {
	sess := New(connectionID)

	st.mu.Lock()
	stale := st.sessions[connectionID]
	st.sessions[connectionID] = sess
	st.mu.Unlock()

	if stale != nil {
		slog.Warn("replacing stale session", "client", connectionID)
		stale.Close()
	}
	return sess
}

// Get returns the session for a connection id.
func (st *Store) Get(connectionID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[connectionID]
	return sess, ok
}

// Destroy removes and closes the session, rejecting all of its pending
// tool calls.
func (st *Store) Destroy(connectionID string) {
	st.mu.Lock()
	sess := st.sessions[connectionID]
	delete(st.sessions, connectionID)
	st.mu.Unlock()

	if sess != nil {
		sess.Close()
		slog.Debug("session destroyed", "client", connectionID)
	}
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
