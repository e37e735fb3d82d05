package repository

import (
	"context"

	"heartstring/internal/domain/entity"
)

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Profile, error)
	// GetByIDs skips ids without a profile.
	GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Profile, error)
	// ListImages returns the user's images ordered by position.
	ListImages(ctx context.Context, userID string) ([]entity.UserImage, error)
}
