package session

import (
	"sort"
	"sync"
	"time"

	"retrygate/internal/shared"
)

// State is the retry bookkeeping of one session.
type State struct {
	SessionID string
	LastKind  shared.Kind
	// FirstSeenAt is when LastKind was first observed; elapsed time is
	// measured from here and restarts when the kind changes
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	// Attempts counts failures of LastKind
	Attempts int
}

// Elapsed returns the time spent failing with LastKind as of now.
func (s State) Elapsed(now time.Time) time.Duration {
	if d := now.Sub(s.FirstSeenAt); d > 0 {
		return d
	}
	return 0
}

// StateStore keeps per-session retry state.
type StateStore interface {
	// Observe records a failure of kind and returns the updated state
	Observe(sessionID string, kind shared.Kind, now time.Time) State
	Get(sessionID string) (State, bool)
	Clear(sessionID string)
}

// Store is the in-memory StateStore. Entries live until Clear.
type Store struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{states: make(map[string]*State)}
}

// Observe implements StateStore.
func (s *Store) Observe(sessionID string, kind shared.Kind, now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok || st.LastKind != kind {
		st = &State{SessionID: sessionID, LastKind: kind, FirstSeenAt: now}
		s.states[sessionID] = st
	}
	if now.After(st.LastSeenAt) {
		st.LastSeenAt = now
	}
	st.Attempts++
	return *st
}

// Get implements StateStore.
func (s *Store) Get(sessionID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Clear implements StateStore.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.states, sessionID)
	s.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Snapshot returns a copy of every state ordered by session id.
func (s *Store) Snapshot() []State {
	s.mu.Lock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// ClearIdle drops every session not seen since cutoff and returns their ids.
// The check and the delete happen under one lock, so a session observed
// concurrently is never dropped.
func (s *Store) ClearIdle(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, st := range s.states {
		if st.LastSeenAt.Before(cutoff) {
			delete(s.states, id)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
