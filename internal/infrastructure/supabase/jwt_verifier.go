package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	apperrors "heartstring/pkg/errors"
	"heartstring/pkg/logger"
)

// Claims are the fields of a Supabase access token this service reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates Supabase access tokens, either with the project's shared
// HS256 secret or against the project's JWKS endpoint.
type JWTVerifier struct {
	keyFunc jwt.Keyfunc
	methods []string
	jwks    *keyfunc.JWKS
}

func NewSecretVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("supabase jwt secret is empty")
	}
	key := []byte(secret)
	return &JWTVerifier{
		keyFunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
	}, nil
}

func NewJWKSVerifier(jwksURL string) (*JWTVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("JWKS refresh failed: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}
	return &JWTVerifier{
		keyFunc: jwks.Keyfunc,
		methods: []string{"RS256", "ES256"},
		jwks:    jwks,
	}, nil
}

// VerifyToken returns the token subject, which Supabase sets to the user id.
func (v *JWTVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc, jwt.WithValidMethods(v.methods))
	if err != nil || !parsed.Valid {
		return "", apperrors.NotAuthenticated(err)
	}
	if claims.Subject == "" {
		return "", apperrors.NotAuthenticated(fmt.Errorf("token has no subject"))
	}
	return claims.Subject, nil
}

func (v *JWTVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
