package usecase

import "sync"

// boundedSet remembers at most capacity ids, evicting the oldest first. Each
// Add stamps the id with a sequence number so order entries left behind by
// Remove never evict a later Add of the same id.
type boundedSet struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	items    map[string]uint64
	order    []setEntry
}

type setEntry struct {
	id  string
	seq uint64
}

func newBoundedSet(capacity int) *boundedSet {
	return &boundedSet{capacity: capacity, items: make(map[string]uint64, capacity)}
}

// Add reports whether id was not present.
func (s *boundedSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; ok {
		return false
	}
	s.seq++
	s.items[id] = s.seq
	s.order = append(s.order, setEntry{id: id, seq: s.seq})

	for len(s.items) > s.capacity && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if s.items[oldest.id] == oldest.seq {
			delete(s.items, oldest.id)
		}
	}
	if len(s.order) > 2*s.capacity {
		s.compact()
	}
	return true
}

func (s *boundedSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

func (s *boundedSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

func (s *boundedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// compact drops order entries that no longer stamp a live id. Caller holds mu.
func (s *boundedSet) compact() {
	kept := make([]setEntry, 0, len(s.items))
	for _, e := range s.order {
		if s.items[e.id] == e.seq {
			kept = append(kept, e)
		}
	}
	s.order = kept
}

// readLedger holds ids whose unread decrement is owned by a local bulk
// mark-read. The matching realtime update consumes the entry instead of
// decrementing a second time.
type readLedger struct {
	pending *boundedSet
}

func newReadLedger(capacity int) *readLedger {
	return &readLedger{pending: newBoundedSet(capacity)}
}

// Acknowledge returns the ids that were not already pending.
func (l *readLedger) Acknowledge(ids []string) []string {
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if l.pending.Add(id) {
			fresh = append(fresh, id)
		}
	}
	return fresh
}

func (l *readLedger) Consume(id string) bool {
	return l.pending.Remove(id)
}

// Release drops ids after a failed remote write and returns how many were
// still pending, that is, not yet consumed by a realtime update.
func (l *readLedger) Release(ids []string) int {
	released := 0
	for _, id := range ids {
		if l.pending.Remove(id) {
			released++
		}
	}
	return released
}
