package entity

import "time"

type Message struct {
	ID         string    `json:"id" firestore:"id"`
	SenderID   string    `json:"sender_id" firestore:"sender_id"`
	ReceiverID string    `json:"receiver_id" firestore:"receiver_id"`
	Content    string    `json:"content,omitempty" firestore:"content"`
	ImageURL   string    `json:"image_url,omitempty" firestore:"image_url"`
	CreatedAt  time.Time `json:"created_at" firestore:"created_at"`
	Read       bool      `json:"read" firestore:"read"`
}

// PartnerOf returns the participant that is not self.
func (m *Message) PartnerOf(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// InConversation reports whether the message belongs to the unordered pair {a, b}.
func (m *Message) InConversation(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Preview is the text shown in a conversation list for this message.
func (m *Message) Preview() string {
	if m.Content == "" && m.ImageURL != "" {
		return "[image]"
	}
	return m.Content
}
