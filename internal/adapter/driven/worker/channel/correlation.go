package channel

import (
	"encoding/json"
	"sync"

	"github.com/Wyydra/ya-sfu/internal/core/domain"
)

type response struct {
	data     json.RawMessage
	accepted bool
	kind     string
	reason   string
	err      error
}

// table maps correlation ids to one-shot response slots.
type table struct {
	mu     sync.Mutex
	next   uint32
	slots  map[uint32]chan response
	closed bool
}

func newTable() *table {
	return &table{slots: make(map[uint32]chan response)}
}

// register allocates an id that is not outstanding. Zero is never used.
func (t *table) register() (uint32, <-chan response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, nil, domain.ErrChannelClosed
	}
	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, busy := t.slots[t.next]; !busy {
			break
		}
	}
	slot := make(chan response, 1)
	t.slots[t.next] = slot
	return t.next, slot, nil
}

// resolve reports false when nobody waits for id anymore.
func (t *table) resolve(id uint32, r response) bool {
	t.mu.Lock()
	slot, ok := t.slots[id]
	delete(t.slots, id)
	t.mu.Unlock()

	if ok {
		slot <- r
	}
	return ok
}

func (t *table) abandon(id uint32) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// close fails every outstanding slot and refuses new ones. It returns the
// number of requests that were still waiting.
func (t *table) close() int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	t.closed = true
	slots := t.slots
	t.slots = make(map[uint32]chan response)
	t.mu.Unlock()

	for _, slot := range slots {
		slot <- response{err: domain.ErrChannelClosed}
	}
	return len(slots)
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
