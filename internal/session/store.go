// Package session keeps per-session conversational state in memory: the last
// stated context, the last ranked tool set, the last explicit search and a
// short call history. Nothing here survives a restart.
package session

import (
	"sync"
	"time"
)

// DefaultID is the session key used by single-client transports such as stdio.
const DefaultID = "default"

// maxCalls bounds the per-session call history.
const maxCalls = 100

// Context is the most recent intent stated by a client.
type Context struct {
	Query      string    `json:"query"`
	Intent     string    `json:"intent,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Search is the most recent explicit tool search.
type Search struct {
	Query   string   `json:"query"`
	Results []string `json:"results"`
}

// Call is one routed tool call.
type Call struct {
	Tool  string    `json:"tool"`
	Query string    `json:"query,omitempty"`
	At    time.Time `json:"at"`
}

type state struct {
	context    *Context
	ranked     []string
	search     *Search
	calls      []Call
	lastActive time.Time
}

// Store holds session state keyed by session ID. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state
	idleTTL  time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTTL evicts sessions idle for longer than ttl on Sweep. Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) { s.idleTTL = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*state),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// touch returns the state for id, creating it on first contact. Caller holds the write lock.
func (s *Store) touch(id string) *state {
	st, ok := s.sessions[id]
	if !ok {
		st = &state{}
		s.sessions[id] = st
	}
	st.lastActive = s.now()
	return st
}

// SetContext records the stated context and returns it.
func (s *Store) SetContext(id, query, intent string) Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Context{Query: query, Intent: intent, ObservedAt: s.now()}
	s.touch(id).context = &c
	return c
}

// Context returns the last stated context.
func (s *Store) Context(id string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[id]
	if !ok || st.context == nil {
		return Context{}, false
	}
	return *st.context, true
}

// SetRanked records the ranked tool set last exposed to the session.
func (s *Store) SetRanked(id string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(id).ranked = append([]string(nil), names...)
}

// Ranked returns a copy of the last ranked set.
func (s *Store) Ranked(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.sessions[id]; ok {
		return append([]string(nil), st.ranked...)
	}
	return nil
}

// SetLastSearch records the last explicit search and its result names.
func (s *Store) SetLastSearch(id, query string, results []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(id).search = &Search{Query: query, Results: append([]string(nil), results...)}
}

// LastSearch returns the last explicit search.
func (s *Store) LastSearch(id string) (Search, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[id]
	if !ok || st.search == nil {
		return Search{}, false
	}
	return Search{Query: st.search.Query, Results: append([]string(nil), st.search.Results...)}, true
}

// RecordCall appends a routed call to the session history, keeping the most recent ones.
func (s *Store) RecordCall(id, tool string) Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.touch(id)
	c := Call{Tool: tool, At: s.now()}
	if st.context != nil {
		c.Query = st.context.Query
	}
	st.calls = append(st.calls, c)
	if len(st.calls) > maxCalls {
		st.calls = append([]Call(nil), st.calls[len(st.calls)-maxCalls:]...)
	}
	return c
}

// Calls returns a copy of the call history, oldest first.
func (s *Store) Calls(id string) []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.sessions[id]; ok {
		return append([]Call(nil), st.calls...)
	}
	return nil
}

// Delete drops all state for a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle longer than the configured TTL and returns how many were removed.
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for id, st := range s.sessions {
		if st.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
