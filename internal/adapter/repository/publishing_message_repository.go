package repository

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/internal/domain/service"
	"heartstring/pkg/logger"
)

// publishingMessageRepository emits INSERT, UPDATE and DELETE change events for
// every successful write it forwards. Publish failures are logged; the write
// itself already succeeded.
type publishingMessageRepository struct {
	repository.MessageRepository
	pub service.ChangePublisher
}

func NewPublishingMessageRepository(next repository.MessageRepository, pub service.ChangePublisher) repository.MessageRepository {
	return &publishingMessageRepository{MessageRepository: next, pub: pub}
}

func (r *publishingMessageRepository) emit(ctx context.Context, typ entity.EventType, newRow, oldRow *entity.Message) {
	ev := entity.ChangeEvent{
		Schema:          entity.SchemaPublic,
		Table:           entity.TableMessages,
		Type:            typ,
		CommitTimestamp: time.Now().UTC(),
	}
	if newRow != nil {
		ev.New, _ = json.Marshal(newRow)
	}
	if oldRow != nil {
		ev.Old, _ = json.Marshal(oldRow)
	}
	if err := r.pub.Publish(ctx, ev); err != nil {
		logger.L().Warn("failed to publish message change", zap.String("type", string(typ)), zap.Error(err))
	}
}

func (r *publishingMessageRepository) SendMessage(ctx context.Context, message *entity.Message) error {
	if err := r.MessageRepository.SendMessage(ctx, message); err != nil {
		return err
	}
	row := *message
	r.emit(ctx, entity.EventInsert, &row, nil)
	return nil
}

func (r *publishingMessageRepository) MarkRead(ctx context.Context, readerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	before, err := r.MessageRepository.GetMessagesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if err := r.MessageRepository.MarkRead(ctx, readerID, ids); err != nil {
		return err
	}

	for _, old := range before {
		if old.ReceiverID != readerID || old.Read {
			continue
		}
		updated := *old
		updated.Read = true
		r.emit(ctx, entity.EventUpdate, &updated, old)
	}
	return nil
}

func (r *publishingMessageRepository) DeleteMessage(ctx context.Context, id, requesterID string) error {
	before, err := r.MessageRepository.GetMessagesByIDs(ctx, []string{id})
	if err != nil {
		return err
	}
	if err := r.MessageRepository.DeleteMessage(ctx, id, requesterID); err != nil {
		return err
	}
	if len(before) == 1 {
		r.emit(ctx, entity.EventDelete, nil, before[0])
	}
	return nil
}
