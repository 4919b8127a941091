package channel

import (
	"sync"
)

type subEntry[H any] struct {
	token   uint64
	handler H
}

// subscriptions holds one handler per target id.
type subscriptions[H any] struct {
	mu      sync.RWMutex
	next    uint64
	entries map[string]subEntry[H]
}

func (s *subscriptions[H]) add(target string, h H) (token uint64, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]subEntry[H])
	}
	_, replaced = s.entries[target]
	s.next++
	s.entries[target] = subEntry[H]{token: s.next, handler: h}
	return s.next, replaced
}

// remove drops the entry only if token still owns it.
func (s *subscriptions[H]) remove(target string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[target]; ok && e.token == token {
		delete(s.entries, target)
	}
}

func (s *subscriptions[H]) get(target string) (H, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[target]
	return e.handler, ok
}

func (s *subscriptions[H]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}
