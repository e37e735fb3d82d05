package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
)

type firestoreSettingsRepository struct {
	client *firestore.Client
}

func NewFirestoreSettingsRepository(client *firestore.Client) repository.SettingsRepository {
	return &firestoreSettingsRepository{client: client}
}

func (r *firestoreSettingsRepository) Get(ctx context.Context, userID string) (*entity.UserSettings, error) {
	doc, err := r.client.Collection(colUserSettings).Doc(userID).Get(ctx)
	if err != nil {
		return nil, fsError("Settings", "load settings", err)
	}

	var s entity.UserSettings
	if err := doc.DataTo(&s); err != nil {
		return nil, fsError("Settings", "parse settings", err)
	}
	s.ID = userID
	return &s, nil
}

func (r *firestoreSettingsRepository) Save(ctx context.Context, s *entity.UserSettings) error {
	if _, err := r.client.Collection(colUserSettings).Doc(s.ID).Set(ctx, s); err != nil {
		return fsError("Settings", "save settings", err)
	}
	return nil
}

type firestoreBlockedUserRepository struct {
	client *firestore.Client
}

func NewFirestoreBlockedUserRepository(client *firestore.Client) repository.BlockedUserRepository {
	return &firestoreBlockedUserRepository{client: client}
}

func (r *firestoreBlockedUserRepository) ListByUser(ctx context.Context, userID string) ([]*entity.BlockedUser, error) {
	docs, err := r.client.Collection(colBlockedUsers).
		Where("user_id", "==", userID).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fsError("Blocked user", "list blocked users", err)
	}

	blocked := make([]*entity.BlockedUser, 0, len(docs))
	for _, doc := range docs {
		var b entity.BlockedUser
		if err := doc.DataTo(&b); err != nil {
			continue
		}
		b.ID = doc.Ref.ID
		blocked = append(blocked, &b)
	}
	return blocked, nil
}

func (r *firestoreBlockedUserRepository) Create(ctx context.Context, b *entity.BlockedUser) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()

	if _, err := r.client.Collection(colBlockedUsers).Doc(b.ID).Create(ctx, b); err != nil {
		return fsError("Blocked user", "block user", err)
	}
	return nil
}

func (r *firestoreBlockedUserRepository) GetByID(ctx context.Context, id string) (*entity.BlockedUser, error) {
	doc, err := r.client.Collection(colBlockedUsers).Doc(id).Get(ctx)
	if err != nil {
		return nil, fsError("Blocked user", "load blocked user", err)
	}

	var b entity.BlockedUser
	if err := doc.DataTo(&b); err != nil {
		return nil, fsError("Blocked user", "parse blocked user", err)
	}
	b.ID = doc.Ref.ID
	return &b, nil
}

func (r *firestoreBlockedUserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.client.Collection(colBlockedUsers).Doc(id).Delete(ctx); err != nil {
		return fsError("Blocked user", "unblock user", err)
	}
	return nil
}
