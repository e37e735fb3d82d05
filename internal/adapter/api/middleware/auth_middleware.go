package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"heartstring/internal/domain/service"
	"heartstring/pkg/errors"
	"heartstring/pkg/response"
)

type AuthMiddleware struct {
	verifier service.TokenVerifier
}

func NewAuthMiddleware(verifier service.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate verifies the bearer token and stores "uid" and "token" on the
// context. Browsers cannot set headers on websocket upgrades, so the token may
// also come from the "token" query parameter.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := bearerToken(c.Request())
		if err != nil {
			return response.Error(c, err)
		}

		uid, err := m.verifier.VerifyToken(c.Request().Context(), token)
		if err != nil {
			if !errors.Is(err, errors.CodeNotAuthenticated) {
				err = errors.NotAuthenticated(err)
			}
			return response.Error(c, err)
		}

		c.Set("uid", uid)
		c.Set("token", token)
		return next(c)
	}
}

func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.Unauthorized("Invalid authorization format", nil)
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errors.Unauthorized("Authorization header is required", nil)
}
