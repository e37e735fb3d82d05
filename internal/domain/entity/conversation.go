package entity

import "time"

// Conversation is the summary of a chat with one partner, keyed by the partner's user id.
type Conversation struct {
	PartnerID       string     `json:"id"`
	Name            string     `json:"name"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	LastMessage     string     `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count"`

	// UnreadIDs lists the messages counted in UnreadCount when the summary was
	// loaded. Only gateways fill it.
	UnreadIDs []string `json:"-"`
}

// ConversationPatch carries the fields to merge into a Conversation. Nil fields are left untouched.
type ConversationPatch struct {
	Name            *string
	AvatarURL       *string
	LastMessage     *string
	LastMessageTime *time.Time
	UnreadCount     *int

	// ClearLastMessageTime drops the entry's time when LastMessageTime is nil.
	ClearLastMessageTime bool
}

// PatchFrom builds a patch that overwrites every field with the values of c.
func PatchFrom(c *Conversation) ConversationPatch {
	p := ConversationPatch{
		Name:        &c.Name,
		AvatarURL:   &c.AvatarURL,
		LastMessage: &c.LastMessage,
		UnreadCount: &c.UnreadCount,
	}
	if c.LastMessageTime != nil {
		t := *c.LastMessageTime
		p.LastMessageTime = &t
	} else {
		p.ClearLastMessageTime = true
	}
	return p
}

func (c *Conversation) Apply(p ConversationPatch) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.AvatarURL != nil {
		c.AvatarURL = *p.AvatarURL
	}
	if p.LastMessage != nil {
		c.LastMessage = *p.LastMessage
	}
	if p.LastMessageTime != nil {
		t := *p.LastMessageTime
		c.LastMessageTime = &t
	} else if p.ClearLastMessageTime {
		c.LastMessageTime = nil
	}
	if p.UnreadCount != nil {
		c.UnreadCount = *p.UnreadCount
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
	}
}
