package repository

import (
	"context"

	"heartstring/internal/domain/entity"
)

// MessageRepository is the persistence gateway for messages and the conversation
// summaries derived from them. All methods return *errors.AppError kinds.
type MessageRepository interface {
	// ListConversationPartners returns the distinct ids self has exchanged messages with.
	// Sessions load summaries in bulk; this stays for per-partner callers.
	ListConversationPartners(ctx context.Context, selfID string) ([]string, error)
	// ListConversationSummaries builds every conversation of self with a fixed number
	// of queries, independent of the partner count.
	ListConversationSummaries(ctx context.Context, selfID string) ([]*entity.Conversation, error)
	FetchConversationSummary(ctx context.Context, selfID, otherID string) (*entity.Conversation, error)
	FetchLastMessage(ctx context.Context, selfID, otherID string) (*entity.Message, error)
	CountUnread(ctx context.Context, selfID, otherID string) (int, error)
	// GetMessagesByIDs skips unknown ids.
	GetMessagesByIDs(ctx context.Context, ids []string) ([]*entity.Message, error)
	// FetchThread returns the conversation ascending by created_at.
	FetchThread(ctx context.Context, selfID, otherID string) ([]*entity.Message, error)

	// SendMessage assigns ID and CreatedAt on success.
	SendMessage(ctx context.Context, message *entity.Message) error
	// MarkRead flips read=true on the given ids whose receiver is readerID.
	MarkRead(ctx context.Context, readerID string, ids []string) error
	// DeleteMessage removes the message only when requesterID is its sender.
	DeleteMessage(ctx context.Context, id, requesterID string) error
}
