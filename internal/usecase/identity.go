package usecase

import (
	"context"
	"sync"

	"heartstring/internal/domain/service"
	"heartstring/pkg/errors"
)

// TokenIdentity resolves the current user by verifying the latest bearer token
// on every call, so an expired token ends the user's access.
type TokenIdentity struct {
	verifier service.TokenVerifier

	mu    sync.RWMutex
	token string
}

func NewTokenIdentity(verifier service.TokenVerifier, token string) *TokenIdentity {
	return &TokenIdentity{verifier: verifier, token: token}
}

func (i *TokenIdentity) SetToken(token string) {
	i.mu.Lock()
	i.token = token
	i.mu.Unlock()
}

// Token returns the raw token. It doubles as the access token source of
// realtime connections.
func (i *TokenIdentity) Token(_ context.Context) (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.token == "" {
		return "", errors.NotAuthenticated(nil)
	}
	return i.token, nil
}

func (i *TokenIdentity) CurrentUserID(ctx context.Context) (string, error) {
	token, err := i.Token(ctx)
	if err != nil {
		return "", err
	}

	uid, err := i.verifier.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, errors.CodeNotAuthenticated) {
			return "", err
		}
		return "", errors.NotAuthenticated(err)
	}
	if uid == "" {
		return "", errors.NotAuthenticated(nil)
	}
	return uid, nil
}
