package usecase

import (
	"sort"
	"sync"

	"heartstring/internal/domain/entity"
)

type ApplyResult int

const (
	// Applied means the partner's entry was updated.
	Applied ApplyResult = iota
	// UnknownPartner means no entry exists; the caller must fetch the full summary.
	UnknownPartner
	// NotInvolved means self is not a party to the message.
	NotInvolved
)

// ConversationStore is the ordered conversation list of one user. Entries are
// kept sorted by last message time, newest first, entries without a time last.
type ConversationStore struct {
	mu      sync.Mutex
	entries []*entity.Conversation
	byID    map[string]*entity.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{byID: make(map[string]*entity.Conversation)}
}

func (s *ConversationStore) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i].LastMessageTime, s.entries[j].LastMessageTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// Upsert merges patch into the partner's entry, creating it if absent.
func (s *ConversationStore) Upsert(partnerID string, patch entity.ConversationPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[partnerID]
	if !ok {
		c = &entity.Conversation{PartnerID: partnerID}
		s.byID[partnerID] = c
		s.entries = append(s.entries, c)
	}
	c.Apply(patch)
	s.sortLocked()
}

// ApplyIncomingMessage records a newly observed message. A message older than the
// entry's current preview still counts as unread but does not replace the preview.
func (s *ConversationStore) ApplyIncomingMessage(m *entity.Message, selfID string) ApplyResult {
	return s.applyMessage(m, selfID, true)
}

// ApplyCountedMessage records a message the entry's unread count already
// includes, such as one a loaded summary reported as unread. Only the preview
// can change.
func (s *ConversationStore) ApplyCountedMessage(m *entity.Message, selfID string) ApplyResult {
	return s.applyMessage(m, selfID, false)
}

func (s *ConversationStore) applyMessage(m *entity.Message, selfID string, count bool) ApplyResult {
	if !m.Involves(selfID) {
		return NotInvolved
	}
	partner := m.PartnerOf(selfID)
	if partner == selfID {
		return NotInvolved
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[partner]
	if !ok {
		return UnknownPartner
	}

	if c.LastMessageTime == nil || !m.CreatedAt.Before(*c.LastMessageTime) {
		at := m.CreatedAt
		c.LastMessage = m.Preview()
		c.LastMessageTime = &at
	}
	if count && m.SenderID != selfID && !m.Read {
		c.UnreadCount++
	}
	s.sortLocked()
	return Applied
}

// ApplyReadReceipt decrements the partner's unread count, floored at zero. It
// reports whether the entry changed.
func (s *ConversationStore) ApplyReadReceipt(partnerID string) bool {
	return s.ApplyReadReceipts(partnerID, 1)
}

// ApplyReadReceipts decrements the partner's unread count by n, floored at zero.
func (s *ConversationStore) ApplyReadReceipts(partnerID string, n int) bool {
	if n <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[partnerID]
	if !ok || c.UnreadCount == 0 {
		return false
	}
	c.UnreadCount -= n
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return true
}

// Replace swaps the whole list, as after a full reload.
func (s *ConversationStore) Replace(list []*entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]*entity.Conversation, 0, len(list))
	s.byID = make(map[string]*entity.Conversation, len(list))
	for _, src := range list {
		if _, dup := s.byID[src.PartnerID]; dup {
			continue
		}
		c := &entity.Conversation{PartnerID: src.PartnerID}
		c.Apply(entity.PatchFrom(src))
		s.byID[c.PartnerID] = c
		s.entries = append(s.entries, c)
	}
	s.sortLocked()
}

// Snapshot returns a copy of the list in display order.
func (s *ConversationStore) Snapshot() []entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Conversation, len(s.entries))
	for i, c := range s.entries {
		out[i] = copyConversation(c)
	}
	return out
}

func (s *ConversationStore) Get(partnerID string) (entity.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[partnerID]
	if !ok {
		return entity.Conversation{}, false
	}
	return copyConversation(c), true
}

func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func copyConversation(c *entity.Conversation) entity.Conversation {
	out := *c
	if c.LastMessageTime != nil {
		t := *c.LastMessageTime
		out.LastMessageTime = &t
	}
	return out
}
