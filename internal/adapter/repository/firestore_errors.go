package repository

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "heartstring/pkg/errors"
)

const (
	colMessages     = "messages"
	colProfiles     = "profiles"
	colUserImages   = "user_images"
	colUserSettings = "user_settings"
	colBlockedUsers = "blocked_users"

	// Firestore caps "in" filters at 30 values.
	maxInValues = 30
)

func fsError(resource, action string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return apperrors.NotFound(resource, err)
	case codes.Unauthenticated:
		return apperrors.NotAuthenticated(err)
	case codes.PermissionDenied:
		return apperrors.Unauthorized("Not allowed to "+action, err)
	default:
		return apperrors.Transient("Failed to "+action, err)
	}
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
