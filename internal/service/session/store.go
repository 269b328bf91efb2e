package session

import (
	"errors"
	"sync"
)

// Service errors surfaced to callers.
var (
	ErrAlreadyActive   = errors.New("session: target already has an active session")
	ErrNoActiveSession = errors.New("session: no active session for target")
	ErrAttach          = errors.New("session: inspector attach failed")
	ErrChannelEnable   = errors.New("session: network channel enable failed")
	ErrProtectedTarget = errors.New("session: target is a protected context")
)

type sessionState int

const (
	stateAttaching sessionState = iota
	stateActive
	stateStopping
)

// Store owns the target-to-session table and enforces at most one live
// session per target. It is the only shared mutable state in the engine.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*liveSession)}
}

// Create reserves the slot for targetID. The reservation exists from the
// very start of attach so a concurrent start observes AlreadyActive; a
// failed start removes it, leaving nothing registered.
func (st *Store) Create(targetID string, s *liveSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[targetID]; exists {
		return ErrAlreadyActive
	}
	st.sessions[targetID] = s
	return nil
}

// Get returns the session for targetID if one exists.
func (st *Store) Get(targetID string) (*liveSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[targetID]
	return s, ok
}

// Active reports whether targetID has a fully started session.
func (st *Store) Active(targetID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[targetID]
	return ok && s.state == stateActive
}

// BeginStop transitions an active session to stopping and returns it.
// A second concurrent stop, or a stop with no session, gets false.
func (st *Store) BeginStop(targetID string) (*liveSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[targetID]
	if !ok || s.state != stateActive {
		return nil, false
	}
	s.state = stateStopping
	return s, true
}

// MarkActive promotes a reservation to a fully started session.
func (st *Store) MarkActive(targetID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[targetID]; ok && s.state == stateAttaching {
		s.state = stateActive
	}
}

// TakeForCleanup removes and returns the session for a forced teardown,
// unless a stop already owns it.
func (st *Store) TakeForCleanup(targetID string) (*liveSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[targetID]
	if !ok || s.state == stateStopping {
		return nil, false
	}
	delete(st.sessions, targetID)
	return s, true
}

// Remove drops the session for targetID. Removing an absent target is a
// no-op.
func (st *Store) Remove(targetID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, targetID)
}

// Len reports the number of registered sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
