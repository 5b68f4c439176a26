package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// SessionID derives the deterministic identifier for an interview/candidate
// pair. Re-joining the same interview therefore resumes the same session id.
func SessionID(interviewID, userID string) string {
	return fmt.Sprintf("session_%s_%s", interviewID, userID)
}

// Store is the registry of live sessions and their connection bindings.
//
// The store-level lock only guards the maps; all per-session state is guarded
// by the session's own mutex, so operations on different sessions never
// contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byConn   map[string]string // connection id → session id
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
	}
}

// Create registers a new session for the interview/candidate pair and returns
// it. The id is deterministic; when a session with the same id already
// exists, the newest Create wins: the old session's supervised work is torn
// down, but its rolling buffers carry over so a re-join resumes accumulated
// observations instead of losing them.
//
// parent scopes the session's background work; it should be the application
// context, not a request context.
func (st *Store) Create(parent context.Context, cfg InterviewConfig, prefs Preferences, svcs Services) *Session {
	id := SessionID(cfg.InterviewID, cfg.UserID)

	st.mu.Lock()
	old := st.sessions[id]
	var data *RealtimeData
	if old != nil {
		data = old.Data
	}
	sess := newSession(parent, id, cfg, prefs, svcs, data)
	st.sessions[id] = sess
	st.mu.Unlock()

	if old != nil {
		slog.Warn("session recreated, replacing existing entry",
			"session_id", id,
			"old_status", old.Status(),
		)
		old.End()
		old.Cancel()
		if h := old.SetTranscriber(nil); h != nil {
			_ = h.Close()
		}
	}
	return sess
}

// Get returns the session with the given id. Absence is a normal result, not
// an error.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// End stamps the session as ended but keeps the entry so late provider
// callbacks observe the end state and no-op. Returns false when the session
// does not exist.
func (st *Store) End(id string) bool {
	s, ok := st.Get(id)
	if !ok {
		return false
	}
	s.End()
	return true
}

// Remove hard-deletes the session: cancels supervised work, waits for it,
// closes the transcriber handle, and clears all connection bindings.
// Removing an absent session is a no-op.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	for connID, sessID := range st.byConn {
		if sessID == id {
			delete(st.byConn, connID)
		}
	}
	st.mu.Unlock()

	if !ok {
		return
	}
	s.End()
	s.Cancel()
	if h := s.SetTranscriber(nil); h != nil {
		_ = h.Close()
	}
}

// BindConnection associates a gateway connection with a session. A connection
// binds to at most one session; rebinding moves it.
func (st *Store) BindConnection(sessionID, connID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[sessionID]; !ok {
		return fmt.Errorf("session: bind connection %s: unknown session %s", connID, sessionID)
	}
	st.byConn[connID] = sessionID
	return nil
}

// UnbindConnection drops the binding for a connection. The session itself is
// untouched; a reconnect re-binds and resumes the same state.
func (st *Store) UnbindConnection(connID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.byConn, connID)
}

// SessionForConnection resolves a gateway connection to its bound session.
func (st *Store) SessionForConnection(connID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byConn[connID]
	if !ok {
		return nil, false
	}
	s, ok := st.sessions[id]
	return s, ok
}

// Sessions snapshots all live sessions in no particular order.
func (st *Store) Sessions() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
