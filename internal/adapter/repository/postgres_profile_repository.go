package repository

import (
	"context"

	"gorm.io/gorm"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
)

type postgresProfileRepository struct {
	db *gorm.DB
}

func NewPostgresProfileRepository(db *gorm.DB) repository.ProfileRepository {
	return &postgresProfileRepository{db: db}
}

func (r *postgresProfileRepository) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	var row profileRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, dbError("Profile", "load profile", err)
	}
	return row.toEntity(), nil
}

func (r *postgresProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Profile, error) {
	profiles := make(map[string]*entity.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	var rows []profileRow
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, dbError("Profile", "load profiles", err)
	}
	for i := range rows {
		profiles[rows[i].ID] = rows[i].toEntity()
	}
	return profiles, nil
}

func (r *postgresProfileRepository) ListImages(ctx context.Context, userID string) ([]entity.UserImage, error) {
	var rows []userImageRow
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("position ASC").Find(&rows).Error
	if err != nil {
		return nil, dbError("Profile", "load profile images", err)
	}

	images := make([]entity.UserImage, len(rows))
	for i, row := range rows {
		images[i] = entity.UserImage{ID: row.ID, UserID: row.UserID, URL: row.URL, Position: row.Position}
	}
	return images, nil
}
