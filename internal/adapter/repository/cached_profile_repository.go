package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/pkg/logger"
)

// cachedProfileRepository keeps profiles and image lists in Redis in front of the
// backing gateway. Cache failures fall through to the gateway.
type cachedProfileRepository struct {
	next repository.ProfileRepository
	cli  *redis.Client
	ttl  time.Duration
}

func NewCachedProfileRepository(next repository.ProfileRepository, cli *redis.Client, ttl time.Duration) repository.ProfileRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &cachedProfileRepository{next: next, cli: cli, ttl: ttl}
}

func profileKey(id string) string { return fmt.Sprintf("hs:profile:%s", id) }
func imagesKey(id string) string  { return fmt.Sprintf("hs:images:%s", id) }

func (r *cachedProfileRepository) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	if raw, err := r.cli.Get(ctx, profileKey(id)).Bytes(); err == nil {
		var p entity.Profile
		if json.Unmarshal(raw, &p) == nil {
			return &p, nil
		}
	} else if err != redis.Nil {
		logger.Warn("profile cache read failed for %s: %v", id, err)
	}

	p, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, profileKey(id), p)
	return p, nil
}

func (r *cachedProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Profile, error) {
	out := make(map[string]*entity.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKey(id)
	}

	missing := ids
	vals, err := r.cli.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("profile cache read failed: %v", err)
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			s, ok := v.(string)
			var p entity.Profile
			if !ok || json.Unmarshal([]byte(s), &p) != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = &p
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := r.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		r.store(ctx, profileKey(id), p)
	}
	return out, nil
}

func (r *cachedProfileRepository) ListImages(ctx context.Context, userID string) ([]entity.UserImage, error) {
	if raw, err := r.cli.Get(ctx, imagesKey(userID)).Bytes(); err == nil {
		var images []entity.UserImage
		if json.Unmarshal(raw, &images) == nil {
			return images, nil
		}
	} else if err != redis.Nil {
		logger.Warn("image cache read failed for %s: %v", userID, err)
	}

	images, err := r.next.ListImages(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, imagesKey(userID), images)
	return images, nil
}

func (r *cachedProfileRepository) store(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.cli.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logger.Warn("profile cache write failed for %s: %v", key, err)
	}
}
