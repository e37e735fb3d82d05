package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedAppError(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := fmt.Errorf("load thread: %w", Transient("Failed to fetch thread", cause))

	assert.True(t, Is(err, CodeTransient))
	assert.False(t, Is(err, CodeNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeTransient, CodeOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("boom")))
	assert.False(t, Is(nil, CodeNotFound))
}

func TestConstructorsCarryStatus(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   string
		status int
	}{
		{NotFound("Profile", nil), CodeNotFound, http.StatusNotFound},
		{Forbidden("Only the sender can delete a message", nil), CodeForbidden, http.StatusForbidden},
		{NotAuthenticated(nil), CodeNotAuthenticated, http.StatusUnauthorized},
		{Transient("Failed to send message", nil), CodeTransient, http.StatusServiceUnavailable},
		{TooManyRequests("Slow down", 3*time.Second), CodeTooManyRequests, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.Status)
	}
	assert.Equal(t, "NOT_FOUND: Profile not found", NotFound("Profile", nil).Error())
}
