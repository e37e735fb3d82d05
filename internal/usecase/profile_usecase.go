package usecase

import (
	"context"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/pkg/errors"
)

type ProfileUseCase struct {
	profileRepo repository.ProfileRepository
}

func NewProfileUseCase(profileRepo repository.ProfileRepository) *ProfileUseCase {
	return &ProfileUseCase{profileRepo: profileRepo}
}

// GetProfile returns the profile with its images ordered by position.
func (uc *ProfileUseCase) GetProfile(ctx context.Context, userID string) (*entity.ProfileDetail, error) {
	if userID == "" {
		return nil, errors.BadRequest("User ID is required", nil)
	}

	profile, err := uc.profileRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	images, err := uc.profileRepo.ListImages(ctx, userID)
	if err != nil {
		return nil, err
	}
	if images == nil {
		images = []entity.UserImage{}
	}

	return &entity.ProfileDetail{Profile: *profile, Images: images}, nil
}
