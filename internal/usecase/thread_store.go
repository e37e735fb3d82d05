package usecase

import (
	"sort"
	"sync"

	"heartstring/internal/domain/entity"
)

// MessageThreadStore holds the messages of the one conversation that is open.
// Every Open or Close starts a new generation; loads tagged with an older
// generation are discarded.
type MessageThreadStore struct {
	mu        sync.Mutex
	selfID    string
	partnerID string
	open      bool
	gen       uint64
	messages  []*entity.Message
	ids       map[string]struct{}
}

func NewMessageThreadStore() *MessageThreadStore {
	return &MessageThreadStore{ids: make(map[string]struct{})}
}

// Open switches the store to the conversation between selfID and partnerID and
// returns the generation that loads for it must carry.
func (s *MessageThreadStore) Open(selfID, partnerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.selfID, s.partnerID, s.open = selfID, partnerID, true
	s.messages = nil
	s.ids = make(map[string]struct{})
	return s.gen
}

func (s *MessageThreadStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Abandon closes the thread only while gen is current, as after a failed load.
func (s *MessageThreadStore) Abandon(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || s.gen != gen {
		return false
	}
	s.closeLocked()
	return true
}

func (s *MessageThreadStore) closeLocked() {
	s.gen++
	s.partnerID, s.open = "", false
	s.messages = nil
	s.ids = make(map[string]struct{})
}

// Current returns the open partner and generation.
func (s *MessageThreadStore) Current() (partnerID string, gen uint64, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partnerID, s.gen, s.open
}

func (s *MessageThreadStore) IsCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && s.gen == gen
}

func sortByCreatedAt(msgs []*entity.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// Load replaces the thread wholesale. It reports false when gen is stale.
func (s *MessageThreadStore) Load(gen uint64, msgs []*entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || gen != s.gen {
		return false
	}
	s.messages = make([]*entity.Message, 0, len(msgs))
	s.ids = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		cp := *m
		s.ids[m.ID] = struct{}{}
		s.messages = append(s.messages, &cp)
	}
	sortByCreatedAt(s.messages)
	return true
}

// Merge unions a fetched thread with messages appended since Open, de-duplicated
// by id and ordered by created_at. A local read flag survives a stale fetched row.
func (s *MessageThreadStore) Merge(gen uint64, msgs []*entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || gen != s.gen {
		return false
	}

	local := make(map[string]*entity.Message, len(s.messages))
	for _, m := range s.messages {
		local[m.ID] = m
	}

	merged := make([]*entity.Message, 0, len(msgs)+len(s.messages))
	ids := make(map[string]struct{}, len(msgs)+len(s.messages))
	for _, m := range msgs {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		cp := *m
		if l, ok := local[m.ID]; ok && l.Read {
			cp.Read = true
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, &cp)
	}
	for _, m := range s.messages {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	sortByCreatedAt(merged)
	s.messages, s.ids = merged, ids
	return true
}

// Append adds a message of the open conversation at the end. It reports false
// when no thread is open, the message belongs elsewhere, or the id is present.
func (s *MessageThreadStore) Append(m *entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || !m.InConversation(s.selfID, s.partnerID) {
		return false
	}
	if _, dup := s.ids[m.ID]; dup {
		return false
	}
	cp := *m
	s.ids[m.ID] = struct{}{}
	s.messages = append(s.messages, &cp)
	return true
}

func (s *MessageThreadStore) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return true
}

// MarkReadBulk flips read on the given local messages and returns how many changed.
func (s *MessageThreadStore) MarkReadBulk(ids []string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, m := range s.messages {
		if _, ok := want[m.ID]; ok && !m.Read {
			m.Read = true
			changed++
		}
	}
	return changed
}

func (s *MessageThreadStore) MarkRead(id string) bool {
	return s.MarkReadBulk([]string{id}) == 1
}

func (s *MessageThreadStore) Get(id string) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ID == id {
			return *m, true
		}
	}
	return entity.Message{}, false
}

// UnreadFrom returns the ids of unread messages sent by senderID.
func (s *MessageThreadStore) UnreadFrom(senderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, m := range s.messages {
		if m.SenderID == senderID && !m.Read {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (s *MessageThreadStore) Snapshot() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}
