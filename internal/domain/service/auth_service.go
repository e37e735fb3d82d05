package service

import "context"

// TokenVerifier validates a bearer token issued by the auth backend and returns its user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Identity resolves the signed-in user. A failure means the caller is not authenticated.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}
