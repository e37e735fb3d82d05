package repository

import (
	"context"

	"heartstring/internal/domain/entity"
)

type SettingsRepository interface {
	Get(ctx context.Context, userID string) (*entity.UserSettings, error)
	Save(ctx context.Context, settings *entity.UserSettings) error
}

type BlockedUserRepository interface {
	ListByUser(ctx context.Context, userID string) ([]*entity.BlockedUser, error)
	Create(ctx context.Context, blocked *entity.BlockedUser) error
	GetByID(ctx context.Context, id string) (*entity.BlockedUser, error)
	Delete(ctx context.Context, id string) error
}
