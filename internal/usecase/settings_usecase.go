package usecase

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/internal/infrastructure/metrics"
	"heartstring/internal/infrastructure/ratelimit"
	"heartstring/pkg/errors"
)

type SettingsUseCase struct {
	settingsRepo repository.SettingsRepository
	blockedRepo  repository.BlockedUserRepository
	profileRepo  repository.ProfileRepository
	limiter      RateLimiter
	validate     *validator.Validate
}

func NewSettingsUseCase(
	settingsRepo repository.SettingsRepository,
	blockedRepo repository.BlockedUserRepository,
	profileRepo repository.ProfileRepository,
	limiter RateLimiter,
) *SettingsUseCase {
	return &SettingsUseCase{
		settingsRepo: settingsRepo,
		blockedRepo:  blockedRepo,
		profileRepo:  profileRepo,
		limiter:      limiter,
		validate:     validator.New(),
	}
}

// GetSettings falls back to the defaults for users without a saved row.
func (uc *SettingsUseCase) GetSettings(ctx context.Context, userID string) (*entity.UserSettings, error) {
	settings, err := uc.settingsRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return entity.DefaultSettings(userID), nil
		}
		return nil, err
	}
	return settings, nil
}

// UpdateSettings applies patch over the current settings. Nothing is saved
// when the result is invalid.
func (uc *SettingsUseCase) UpdateSettings(ctx context.Context, userID string, patch entity.SettingsPatch) (*entity.UserSettings, error) {
	settings, err := uc.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	settings.Apply(patch)
	settings.ID = userID
	if err := uc.validate.Struct(settings); err != nil {
		return nil, err
	}

	if err := uc.settingsRepo.Save(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// ListBlockedUsers returns the user's blocks with the blocked profile's name.
func (uc *SettingsUseCase) ListBlockedUsers(ctx context.Context, userID string) ([]*entity.BlockedUser, error) {
	blocked, err := uc.blockedRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(blocked) == 0 {
		return []*entity.BlockedUser{}, nil
	}

	ids := make([]string, 0, len(blocked))
	for _, b := range blocked {
		ids = append(ids, b.BlockedUserID)
	}
	profiles, err := uc.profileRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, b := range blocked {
		b.BlockedUserName = profiles[b.BlockedUserID].DisplayName()
	}
	return blocked, nil
}

func (uc *SettingsUseCase) BlockUser(ctx context.Context, userID, otherID string) (*entity.BlockedUser, error) {
	if otherID == "" {
		return nil, errors.BadRequest("User to block is required", nil)
	}
	if otherID == userID {
		return nil, errors.BadRequest("You cannot block yourself", nil)
	}

	if uc.limiter != nil {
		if ok, wait := uc.limiter.Allow(userID, ratelimit.ActionBlockUser); !ok {
			metrics.RateLimited.WithLabelValues(ratelimit.ActionBlockUser).Inc()
			return nil, errors.TooManyRequests("Too many block requests", wait)
		}
	}

	if _, err := uc.profileRepo.GetByID(ctx, otherID); err != nil {
		return nil, err
	}

	blocked := &entity.BlockedUser{
		UserID:        userID,
		BlockedUserID: otherID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := uc.blockedRepo.Create(ctx, blocked); err != nil {
		return nil, err
	}
	return blocked, nil
}

// UnblockUser deletes a block record owned by userID.
func (uc *SettingsUseCase) UnblockUser(ctx context.Context, userID, recordID string) error {
	record, err := uc.blockedRepo.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return errors.Forbidden("You can only remove your own blocks", nil)
	}
	return uc.blockedRepo.Delete(ctx, recordID)
}
