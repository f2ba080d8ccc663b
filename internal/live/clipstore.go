package live

import "sync"

// Clip is the latest synthesized audio for one session, kept so the client
// can fetch it over HTTP when it was delivered by relative locator.
type Clip struct {
	Mime string
	Data []byte
}

// ClipStore holds at most one clip per session; a new clip replaces the
// old one, and session teardown drops the entry.
type ClipStore struct {
	mu sync.Mutex
	m  map[string]Clip
}

func NewClipStore() *ClipStore {
	return &ClipStore{m: make(map[string]Clip)}
}

func (s *ClipStore) Set(sessionID string, clip Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sessionID] = clip
}

func (s *ClipStore) Get(sessionID string) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[sessionID]
	return c, ok
}

func (s *ClipStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
}
