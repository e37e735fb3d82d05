package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	apperrors "heartstring/pkg/errors"
)

type postgresMessageRepository struct {
	db *gorm.DB
}

func NewPostgresMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &postgresMessageRepository{db: db}
}

// latestPerPartnerSQL selects the newest message id of every conversation of a user.
const latestPerPartnerSQL = `
SELECT id FROM (
	SELECT id, ROW_NUMBER() OVER (
		PARTITION BY CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
		ORDER BY created_at DESC, id DESC
	) AS rn
	FROM messages
	WHERE sender_id = ? OR receiver_id = ?
) latest
WHERE rn = 1`

// dbError maps gorm failures: a missing record is NotFound, everything else Transient.
func dbError(resource, action string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(resource, err)
	}
	return apperrors.Transient("Failed to "+action, err)
}

func (r *postgresMessageRepository) pair(selfID, otherID string) *gorm.DB {
	return r.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		selfID, otherID, otherID, selfID,
	)
}

func (r *postgresMessageRepository) ListConversationPartners(ctx context.Context, selfID string) ([]string, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Select("sender_id", "receiver_id").
		Where("sender_id = ? OR receiver_id = ?", selfID, selfID).
		Find(&rows).Error
	if err != nil {
		return nil, dbError("Message", "list conversation partners", err)
	}

	seen := make(map[string]bool)
	partners := make([]string, 0)
	for i := range rows {
		partner := rows[i].toEntity().PartnerOf(selfID)
		if partner == selfID || seen[partner] {
			continue
		}
		seen[partner] = true
		partners = append(partners, partner)
	}
	return partners, nil
}

func (r *postgresMessageRepository) ListConversationSummaries(ctx context.Context, selfID string) ([]*entity.Conversation, error) {
	db := r.db.WithContext(ctx)

	var latestIDs []string
	if err := db.Raw(latestPerPartnerSQL, selfID, selfID, selfID).Scan(&latestIDs).Error; err != nil {
		return nil, dbError("Message", "list conversations", err)
	}
	if len(latestIDs) == 0 {
		return []*entity.Conversation{}, nil
	}

	var latest []messageRow
	if err := db.Where("id IN ?", latestIDs).Find(&latest).Error; err != nil {
		return nil, dbError("Message", "list conversations", err)
	}

	partnerIDs := make([]string, 0, len(latest))
	lastByPartner := make(map[string]*entity.Message, len(latest))
	for i := range latest {
		msg := latest[i].toEntity()
		partner := msg.PartnerOf(selfID)
		if partner == selfID {
			continue
		}
		partnerIDs = append(partnerIDs, partner)
		lastByPartner[partner] = msg
	}

	var unread []messageRow
	err := db.Select("id", "sender_id").
		Where("receiver_id = ? AND read = ?", selfID, false).
		Find(&unread).Error
	if err != nil {
		return nil, dbError("Message", "list unread messages", err)
	}
	unreadByPartner := make(map[string][]string)
	for _, u := range unread {
		unreadByPartner[u.SenderID] = append(unreadByPartner[u.SenderID], u.ID)
	}

	var profiles []profileRow
	if err := db.Where("id IN ?", partnerIDs).Find(&profiles).Error; err != nil {
		return nil, dbError("Message", "load profiles", err)
	}

	var images []userImageRow
	err = db.Where("user_id IN ?", partnerIDs).Order("user_id").Order("position ASC").Find(&images).Error
	if err != nil {
		return nil, dbError("Message", "load profile images", err)
	}
	avatars := make(map[string]string)
	for _, img := range images {
		if _, ok := avatars[img.UserID]; !ok {
			avatars[img.UserID] = img.URL
		}
	}

	conversations := make([]*entity.Conversation, 0, len(profiles))
	for i := range profiles {
		p := profiles[i].toEntity()
		last := lastByPartner[p.ID]
		if last == nil {
			continue
		}
		at := last.CreatedAt
		conversations = append(conversations, &entity.Conversation{
			PartnerID:       p.ID,
			Name:            p.DisplayName(),
			AvatarURL:       avatars[p.ID],
			LastMessage:     last.Preview(),
			LastMessageTime: &at,
			UnreadCount:     len(unreadByPartner[p.ID]),
			UnreadIDs:       unreadByPartner[p.ID],
		})
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageTime.After(*conversations[j].LastMessageTime)
	})
	return conversations, nil
}

func (r *postgresMessageRepository) FetchConversationSummary(ctx context.Context, selfID, otherID string) (*entity.Conversation, error) {
	var profile profileRow
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", otherID).Error; err != nil {
		return nil, dbError("Profile", "load profile", err)
	}
	p := profile.toEntity()

	conv := &entity.Conversation{PartnerID: otherID, Name: p.DisplayName()}

	var img userImageRow
	err := r.db.WithContext(ctx).Where("user_id = ?", otherID).Order("position ASC").Limit(1).Find(&img).Error
	if err != nil {
		return nil, dbError("Message", "load profile images", err)
	}
	conv.AvatarURL = img.URL

	last, err := r.FetchLastMessage(ctx, selfID, otherID)
	switch {
	case err == nil:
		at := last.CreatedAt
		conv.LastMessage = last.Preview()
		conv.LastMessageTime = &at
	case !apperrors.Is(err, apperrors.CodeNotFound):
		return nil, err
	}

	err = r.db.WithContext(ctx).Model(&messageRow{}).
		Where("sender_id = ? AND receiver_id = ? AND read = ?", otherID, selfID, false).
		Pluck("id", &conv.UnreadIDs).Error
	if err != nil {
		return nil, dbError("Message", "list unread messages", err)
	}
	conv.UnreadCount = len(conv.UnreadIDs)
	return conv, nil
}

func (r *postgresMessageRepository) FetchLastMessage(ctx context.Context, selfID, otherID string) (*entity.Message, error) {
	var row messageRow
	err := r.pair(selfID, otherID).WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		First(&row).Error
	if err != nil {
		return nil, dbError("Message", "fetch last message", err)
	}
	return row.toEntity(), nil
}

func (r *postgresMessageRepository) CountUnread(ctx context.Context, selfID, otherID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageRow{}).
		Where("sender_id = ? AND receiver_id = ? AND read = ?", otherID, selfID, false).
		Count(&count).Error
	if err != nil {
		return 0, dbError("Message", "count unread messages", err)
	}
	return int(count), nil
}

func (r *postgresMessageRepository) GetMessagesByIDs(ctx context.Context, ids []string) ([]*entity.Message, error) {
	if len(ids) == 0 {
		return []*entity.Message{}, nil
	}
	var rows []messageRow
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, dbError("Message", "load messages", err)
	}

	messages := make([]*entity.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toEntity()
	}
	return messages, nil
}

func (r *postgresMessageRepository) FetchThread(ctx context.Context, selfID, otherID string) ([]*entity.Message, error) {
	var rows []messageRow
	err := r.pair(selfID, otherID).WithContext(ctx).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, dbError("Message", "fetch messages", err)
	}

	messages := make([]*entity.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toEntity()
	}
	return messages, nil
}

func (r *postgresMessageRepository) SendMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now().UTC()
	message.Read = false

	if err := r.db.WithContext(ctx).Create(messageRowFrom(message)).Error; err != nil {
		return dbError("Message", "send message", err)
	}
	return nil
}

func (r *postgresMessageRepository) MarkRead(ctx context.Context, readerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&messageRow{}).
		Where("id IN ? AND receiver_id = ?", ids, readerID).
		Update("read", true).Error
	if err != nil {
		return dbError("Message", "mark messages as read", err)
	}
	return nil
}

func (r *postgresMessageRepository) DeleteMessage(ctx context.Context, id, requesterID string) error {
	res := r.db.WithContext(ctx).Where("id = ? AND sender_id = ?", id, requesterID).Delete(&messageRow{})
	if res.Error != nil {
		return dbError("Message", "delete message", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return dbError("Message", "delete message", err)
	}
	if count == 0 {
		return apperrors.NotFound("Message", nil)
	}
	return apperrors.Forbidden("Only the sender can delete a message", nil)
}
