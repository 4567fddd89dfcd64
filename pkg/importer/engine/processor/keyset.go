package processor

import "sync"

// KeySet is the pre-loaded set of business keys that already exist in the
// target store, mapped to their parent record ids. It is loaded once per run
// with a single filter call and is read-only while groups are being written,
// so the duplicate check at the top of each attempt is safe to repeat: it
// never observes the partial writes of a failed attempt.
type KeySet struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{ids: make(map[string]string)}
}

// Add registers an existing business key with its parent record id.
func (s *KeySet) Add(key, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[key] = id
}

// Get returns the parent record id for a business key, if present.
func (s *KeySet) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[key]
	return id, ok
}

// Len returns the number of registered keys.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
