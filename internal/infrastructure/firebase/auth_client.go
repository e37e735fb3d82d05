package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"

	apperrors "heartstring/pkg/errors"
)

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

// VerifyToken checks a Firebase ID token and returns its uid.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", apperrors.NotAuthenticated(err)
	}

	return result.UID, nil
}

// TestConnection performs a cheap admin call to confirm credentials work.
func (f *FirebaseAuthClient) TestConnection(ctx context.Context) error {
	iter := f.client.Users(ctx, "")
	iter.PageInfo().MaxSize = 1
	_, err := iter.Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}
