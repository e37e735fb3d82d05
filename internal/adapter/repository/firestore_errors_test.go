package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "heartstring/pkg/errors"
)

func TestFsErrorMapsGrpcCodes(t *testing.T) {
	assert.True(t, apperrors.Is(fsError("Profile", "load profile", status.Error(codes.NotFound, "gone")), apperrors.CodeNotFound))
	assert.True(t, apperrors.Is(fsError("Profile", "load profile", status.Error(codes.Unauthenticated, "x")), apperrors.CodeNotAuthenticated))
	assert.True(t, apperrors.Is(fsError("Profile", "load profile", status.Error(codes.PermissionDenied, "x")), apperrors.CodeUnauthorized))
	assert.True(t, apperrors.Is(fsError("Profile", "load profile", status.Error(codes.Unavailable, "x")), apperrors.CodeTransient))
}

func TestChunk(t *testing.T) {
	ids := make([]string, 65)
	for i := range ids {
		ids[i] = string(rune('a' + i%26))
	}
	parts := chunk(ids, maxInValues)
	assert.Len(t, parts, 3)
	assert.Len(t, parts[0], 30)
	assert.Len(t, parts[2], 5)
	assert.Empty(t, chunk(nil, maxInValues))
}
