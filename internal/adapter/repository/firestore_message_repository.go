package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	apperrors "heartstring/pkg/errors"
	"heartstring/pkg/logger"
)

type firestoreMessageRepository struct {
	client   *firestore.Client
	profiles repository.ProfileRepository
}

func NewFirestoreMessageRepository(client *firestore.Client, profiles repository.ProfileRepository) repository.MessageRepository {
	return &firestoreMessageRepository{
		client:   client,
		profiles: profiles,
	}
}

func (r *firestoreMessageRepository) query(ctx context.Context, q firestore.Query) ([]*entity.Message, error) {
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		var m entity.Message
		if err := doc.DataTo(&m); err != nil {
			logger.Warn("Skipping malformed message %s: %v", doc.Ref.ID, err)
			continue
		}
		m.ID = doc.Ref.ID
		messages = append(messages, &m)
	}
	return messages, nil
}

// involving loads every message self sent or received. Firestore cannot OR two
// fields in one query, so both directions are read.
func (r *firestoreMessageRepository) involving(ctx context.Context, selfID string) ([]*entity.Message, error) {
	col := r.client.Collection(colMessages)
	sent, err := r.query(ctx, col.Where("sender_id", "==", selfID))
	if err != nil {
		return nil, err
	}
	received, err := r.query(ctx, col.Where("receiver_id", "==", selfID))
	if err != nil {
		return nil, err
	}
	return append(sent, received...), nil
}

func (r *firestoreMessageRepository) between(ctx context.Context, selfID, otherID string) ([]*entity.Message, error) {
	col := r.client.Collection(colMessages)
	out, err := r.query(ctx, col.Where("sender_id", "==", selfID).Where("receiver_id", "==", otherID))
	if err != nil {
		return nil, err
	}
	in, err := r.query(ctx, col.Where("sender_id", "==", otherID).Where("receiver_id", "==", selfID))
	if err != nil {
		return nil, err
	}
	all := append(out, in...)
	sortAscending(all)
	return all, nil
}

func sortAscending(messages []*entity.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

func (r *firestoreMessageRepository) ListConversationPartners(ctx context.Context, selfID string) ([]string, error) {
	messages, err := r.involving(ctx, selfID)
	if err != nil {
		return nil, fsError("Message", "list conversation partners", err)
	}

	seen := make(map[string]bool)
	partners := make([]string, 0)
	for _, m := range messages {
		p := m.PartnerOf(selfID)
		if p == selfID || seen[p] {
			continue
		}
		seen[p] = true
		partners = append(partners, p)
	}
	return partners, nil
}

func (r *firestoreMessageRepository) ListConversationSummaries(ctx context.Context, selfID string) ([]*entity.Conversation, error) {
	messages, err := r.involving(ctx, selfID)
	if err != nil {
		return nil, fsError("Message", "list conversations", err)
	}

	last := make(map[string]*entity.Message)
	unread := make(map[string][]string)
	for _, m := range messages {
		p := m.PartnerOf(selfID)
		if p == selfID {
			continue
		}
		if cur, ok := last[p]; !ok || m.CreatedAt.After(cur.CreatedAt) ||
			(m.CreatedAt.Equal(cur.CreatedAt) && m.ID > cur.ID) {
			last[p] = m
		}
		if m.ReceiverID == selfID && !m.Read {
			unread[p] = append(unread[p], m.ID)
		}
	}
	if len(last) == 0 {
		return []*entity.Conversation{}, nil
	}

	partnerIDs := make([]string, 0, len(last))
	for p := range last {
		partnerIDs = append(partnerIDs, p)
	}

	profiles, err := r.profiles.GetByIDs(ctx, partnerIDs)
	if err != nil {
		return nil, err
	}
	avatars, err := r.avatars(ctx, partnerIDs)
	if err != nil {
		return nil, fsError("Profile", "load profile images", err)
	}

	conversations := make([]*entity.Conversation, 0, len(profiles))
	for _, p := range partnerIDs {
		profile, ok := profiles[p]
		if !ok {
			continue
		}
		at := last[p].CreatedAt
		conversations = append(conversations, &entity.Conversation{
			PartnerID:       p,
			Name:            profile.DisplayName(),
			AvatarURL:       avatars[p],
			LastMessage:     last[p].Preview(),
			LastMessageTime: &at,
			UnreadCount:     len(unread[p]),
			UnreadIDs:       unread[p],
		})
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageTime.After(*conversations[j].LastMessageTime)
	})
	return conversations, nil
}

// avatars returns the lowest-position image url per user.
func (r *firestoreMessageRepository) avatars(ctx context.Context, userIDs []string) (map[string]string, error) {
	best := make(map[string]entity.UserImage)
	for _, ids := range chunk(userIDs, maxInValues) {
		docs, err := r.client.Collection(colUserImages).Where("user_id", "in", ids).Documents(ctx).GetAll()
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			var img entity.UserImage
			if err := doc.DataTo(&img); err != nil {
				continue
			}
			if cur, ok := best[img.UserID]; !ok || img.Position < cur.Position {
				best[img.UserID] = img
			}
		}
	}

	out := make(map[string]string, len(best))
	for id, img := range best {
		out[id] = img.URL
	}
	return out, nil
}

func (r *firestoreMessageRepository) FetchConversationSummary(ctx context.Context, selfID, otherID string) (*entity.Conversation, error) {
	profile, err := r.profiles.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}
	images, err := r.profiles.ListImages(ctx, otherID)
	if err != nil {
		return nil, err
	}
	detail := entity.ProfileDetail{Profile: *profile, Images: images}

	conv := &entity.Conversation{
		PartnerID: otherID,
		Name:      profile.DisplayName(),
		AvatarURL: detail.AvatarURL(),
	}

	thread, err := r.between(ctx, selfID, otherID)
	if err != nil {
		return nil, fsError("Message", "load conversation", err)
	}
	for _, m := range thread {
		if m.SenderID == otherID && !m.Read {
			conv.UnreadIDs = append(conv.UnreadIDs, m.ID)
		}
	}
	conv.UnreadCount = len(conv.UnreadIDs)
	if n := len(thread); n > 0 {
		at := thread[n-1].CreatedAt
		conv.LastMessage = thread[n-1].Preview()
		conv.LastMessageTime = &at
	}
	return conv, nil
}

func (r *firestoreMessageRepository) FetchLastMessage(ctx context.Context, selfID, otherID string) (*entity.Message, error) {
	thread, err := r.between(ctx, selfID, otherID)
	if err != nil {
		return nil, fsError("Message", "fetch last message", err)
	}
	if len(thread) == 0 {
		return nil, apperrors.NotFound("Message", nil)
	}
	return thread[len(thread)-1], nil
}

func (r *firestoreMessageRepository) CountUnread(ctx context.Context, selfID, otherID string) (int, error) {
	docs, err := r.client.Collection(colMessages).
		Where("sender_id", "==", otherID).
		Where("receiver_id", "==", selfID).
		Where("read", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fsError("Message", "count unread messages", err)
	}
	return len(docs), nil
}

func (r *firestoreMessageRepository) GetMessagesByIDs(ctx context.Context, ids []string) ([]*entity.Message, error) {
	messages := make([]*entity.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = r.client.Collection(colMessages).Doc(id)
	}
	docs, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fsError("Message", "load messages", err)
	}
	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		var m entity.Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		m.ID = doc.Ref.ID
		messages = append(messages, &m)
	}
	return messages, nil
}

func (r *firestoreMessageRepository) FetchThread(ctx context.Context, selfID, otherID string) ([]*entity.Message, error) {
	thread, err := r.between(ctx, selfID, otherID)
	if err != nil {
		return nil, fsError("Message", "fetch messages", err)
	}
	return thread, nil
}

func (r *firestoreMessageRepository) SendMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now().UTC()
	message.Read = false

	_, err := r.client.Collection(colMessages).Doc(message.ID).Create(ctx, message)
	if err != nil {
		return fsError("Message", "send message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) MarkRead(ctx context.Context, readerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = r.client.Collection(colMessages).Doc(id)
	}
	docs, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return fsError("Message", "mark messages as read", err)
	}

	bw := r.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		receiver, err := doc.DataAt("receiver_id")
		if err != nil || receiver != readerID {
			continue
		}
		job, err := bw.Update(doc.Ref, []firestore.Update{{Path: "read", Value: true}})
		if err != nil {
			bw.End()
			return fsError("Message", "mark messages as read", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fsError("Message", "mark messages as read", err)
		}
	}
	return nil
}

func (r *firestoreMessageRepository) DeleteMessage(ctx context.Context, id, requesterID string) error {
	ref := r.client.Collection(colMessages).Doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		sender, err := doc.DataAt("sender_id")
		if err != nil || sender != requesterID {
			return apperrors.Forbidden("Only the sender can delete a message", nil)
		}
		return tx.Delete(ref)
	})
	if err == nil {
		return nil
	}
	if apperrors.Is(err, apperrors.CodeForbidden) {
		return err
	}
	if status.Code(err) == codes.NotFound {
		return apperrors.NotFound("Message", err)
	}
	return fsError("Message", "delete message", err)
}
