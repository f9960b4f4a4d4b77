package server

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/Skryldev/image-compositor/core"
	"github.com/Skryldev/image-compositor/engine"
)

// session is one user's compositing state plus the blob it owns, if any.
type session struct {
	id     string
	engine *engine.Engine

	mu   sync.Mutex
	blob core.ImageReference
}

// swapBlob records ref as the session's current upload and returns the
// previous one so the caller can release it.
func (s *session) swapBlob(ref core.ImageReference) core.ImageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.blob
	s.blob = ref
	return prev
}

// sessions is an in-memory session registry.
type sessions struct {
	mu    sync.RWMutex
	items map[string]*session
}

func newSessions() *sessions {
	return &sessions{items: make(map[string]*session)}
}

func (s *sessions) create(e *engine.Engine) *session {
	sess := &session{id: ulid.Make().String(), engine: e}
	s.mu.Lock()
	s.items[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessions) get(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.items[id]
	return sess, ok
}

func (s *sessions) remove(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[id]
	delete(s.items, id)
	return sess, ok
}

func (s *sessions) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
