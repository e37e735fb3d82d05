package repository

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
)

type firestoreProfileRepository struct {
	client *firestore.Client
}

func NewFirestoreProfileRepository(client *firestore.Client) repository.ProfileRepository {
	return &firestoreProfileRepository{
		client: client,
	}
}

func (r *firestoreProfileRepository) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	doc, err := r.client.Collection(colProfiles).Doc(id).Get(ctx)
	if err != nil {
		return nil, fsError("Profile", "load profile", err)
	}

	var profile entity.Profile
	if err := doc.DataTo(&profile); err != nil {
		return nil, fsError("Profile", "parse profile", err)
	}
	profile.ID = doc.Ref.ID
	return &profile, nil
}

func (r *firestoreProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entity.Profile, error) {
	profiles := make(map[string]*entity.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = r.client.Collection(colProfiles).Doc(id)
	}
	docs, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fsError("Profile", "load profiles", err)
	}

	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		var profile entity.Profile
		if err := doc.DataTo(&profile); err != nil {
			continue
		}
		profile.ID = doc.Ref.ID
		profiles[profile.ID] = &profile
	}
	return profiles, nil
}

func (r *firestoreProfileRepository) ListImages(ctx context.Context, userID string) ([]entity.UserImage, error) {
	docs, err := r.client.Collection(colUserImages).Where("user_id", "==", userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fsError("Profile", "load profile images", err)
	}

	images := make([]entity.UserImage, 0, len(docs))
	for _, doc := range docs {
		var img entity.UserImage
		if err := doc.DataTo(&img); err != nil {
			continue
		}
		img.ID = doc.Ref.ID
		images = append(images, img)
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].Position < images[j].Position })
	return images, nil
}
