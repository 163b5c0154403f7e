// Package session keeps the pending Video/Audio choice of each user.
package session

import (
	"sync"
	"time"

	"github.com/garyellow/igrelay/internal/link"
	"github.com/garyellow/igrelay/internal/media"
)

// Session is a pending choice. Values returned by the store are copies, so a
// fetch that captured a descriptor keeps it even if the user starts over.
type Session struct {
	// ID is unique per store. A session replaced by Create gets a new ID even
	// when both were created at the same instant.
	ID            uint64
	Descriptor    link.Descriptor
	CreatedAt     time.Time
	ChosenVariant media.Variant
	// PromptID identifies the chat message that carries the choice buttons.
	PromptID string
}

// Store holds at most one session per user key. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	nextID   uint64
	timeout  time.Duration
	onUpdate func(count int)
}

// NewStore creates a store whose sessions expire after timeout.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		sessions: make(map[string]Session),
		timeout:  timeout,
	}
}

// OnUpdate registers a callback invoked with the live session count after each change.
func (s *Store) OnUpdate(fn func(count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Create stores a new session for key, replacing any existing one, and
// returns its ID.
func (s *Store) Create(key string, d link.Descriptor, promptID string, now time.Time) uint64 {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.sessions[key] = Session{ID: id, Descriptor: d, CreatedAt: now, PromptID: promptID}
	count, fn := len(s.sessions), s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(count)
	}
	return id
}

// SetPrompt records the prompt message id of an existing session.
// It reports false when key has no session.
func (s *Store) SetPrompt(key, promptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return false
	}
	sess.PromptID = promptID
	s.sessions[key] = sess
	return true
}

// Choose records the chosen variant on a valid session and returns a copy of
// it. It fails when the session is absent, expired at now, or already has a
// variant chosen, so one pending choice starts at most one fetch.
func (s *Store) Choose(key string, v media.Variant, now time.Time) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok || !s.valid(sess, now) || sess.ChosenVariant != "" {
		return Session{}, false
	}
	sess.ChosenVariant = v
	s.sessions[key] = sess
	return sess, true
}

// IsValid reports whether key has a session and now-CreatedAt < timeout.
func (s *Store) IsValid(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	return ok && s.valid(sess, now)
}

// Get returns the raw session regardless of validity. Callers must check
// IsValid before acting on it; Get lets them tell "expired" from "never existed".
func (s *Store) Get(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	return sess, ok
}

// Clear removes the session for key. Clearing an absent session is a no-op.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	_, existed := s.sessions[key]
	delete(s.sessions, key)
	count, fn := len(s.sessions), s.onUpdate
	s.mu.Unlock()

	if existed && fn != nil {
		fn(count)
	}
}

// ClearIf removes the session for key only when its ID is id. A session
// replaced by a later Create is left alone.
func (s *Store) ClearIf(key string, id uint64) bool {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok || sess.ID != id {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, key)
	count, fn := len(s.sessions), s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(count)
	}
	return true
}

// Sweep removes every session that is expired at now and returns how many
// were removed. Expiry is also enforced on read, so sweeping only bounds memory.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	removed := 0
	for key, sess := range s.sessions {
		if !s.valid(sess, now) {
			delete(s.sessions, key)
			removed++
		}
	}
	count, fn := len(s.sessions), s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(count)
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Timeout returns the session lifetime.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

func (s *Store) valid(sess Session, now time.Time) bool {
	return now.Sub(sess.CreatedAt) < s.timeout
}
