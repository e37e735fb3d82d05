package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
)

type postgresSettingsRepository struct {
	db *gorm.DB
}

func NewPostgresSettingsRepository(db *gorm.DB) repository.SettingsRepository {
	return &postgresSettingsRepository{db: db}
}

func (r *postgresSettingsRepository) Get(ctx context.Context, userID string) (*entity.UserSettings, error) {
	var row userSettingsRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", userID).Error; err != nil {
		return nil, dbError("Settings", "load settings", err)
	}
	return &entity.UserSettings{
		ID:       row.ID,
		DarkMode: row.DarkMode,
		ShowMe:   row.ShowMe,
		MinAge:   row.MinAge,
		MaxAge:   row.MaxAge,
		Distance: row.Distance,
	}, nil
}

func (r *postgresSettingsRepository) Save(ctx context.Context, s *entity.UserSettings) error {
	row := userSettingsRow{
		ID:       s.ID,
		DarkMode: s.DarkMode,
		ShowMe:   s.ShowMe,
		MinAge:   s.MinAge,
		MaxAge:   s.MaxAge,
		Distance: s.Distance,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"dark_mode", "show_me", "min_age", "max_age", "distance"}),
	}).Create(&row).Error
	if err != nil {
		return dbError("Settings", "save settings", err)
	}
	return nil
}

type postgresBlockedUserRepository struct {
	db *gorm.DB
}

func NewPostgresBlockedUserRepository(db *gorm.DB) repository.BlockedUserRepository {
	return &postgresBlockedUserRepository{db: db}
}

func (r *postgresBlockedUserRepository) ListByUser(ctx context.Context, userID string) ([]*entity.BlockedUser, error) {
	var rows []blockedUserRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, dbError("Blocked user", "list blocked users", err)
	}

	blocked := make([]*entity.BlockedUser, len(rows))
	for i := range rows {
		blocked[i] = rows[i].toEntity()
	}
	return blocked, nil
}

func (r *postgresBlockedUserRepository) Create(ctx context.Context, b *entity.BlockedUser) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()

	row := blockedUserRow{ID: b.ID, UserID: b.UserID, BlockedUserID: b.BlockedUserID, CreatedAt: b.CreatedAt}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return dbError("Blocked user", "block user", err)
	}
	return nil
}

func (r *postgresBlockedUserRepository) GetByID(ctx context.Context, id string) (*entity.BlockedUser, error) {
	var row blockedUserRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, dbError("Blocked user", "load blocked user", err)
	}
	return row.toEntity(), nil
}

func (r *postgresBlockedUserRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&blockedUserRow{}, "id = ?", id).Error; err != nil {
		return dbError("Blocked user", "unblock user", err)
	}
	return nil
}
