package registry

import "sync"

// VerifiedSet records bundle paths whose signatures were fully verified.
// It only grows. A path that is reused for different content keeps its
// entry, so with skipping enabled such content is not re-verified.
type VerifiedSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func NewVerifiedSet() *VerifiedSet {
	return &VerifiedSet{paths: make(map[string]struct{})}
}

func (s *VerifiedSet) Add(path string) {
	s.mu.Lock()
	s.paths[path] = struct{}{}
	s.mu.Unlock()
}

func (s *VerifiedSet) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[path]
	return ok
}

func (s *VerifiedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}
