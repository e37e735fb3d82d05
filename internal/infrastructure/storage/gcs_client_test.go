package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heartstring/pkg/errors"
)

func TestObjectName(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	name, err := ObjectName("/messages/u1/", "image/png", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "messages/u1/"))
	assert.True(t, strings.HasSuffix(name, "-20240501123000.png"))

	_, err = ObjectName("messages/u1", "application/pdf", now)
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestObjectFromURL(t *testing.T) {
	name, err := ObjectFromURL("bkt", "https://storage.googleapis.com/bkt/messages/u1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "messages/u1/a.png", name)

	_, err = ObjectFromURL("bkt", "https://storage.googleapis.com/other/a.png")
	assert.Error(t, err)
	_, err = ObjectFromURL("bkt", "https://example.com/bkt/a.png")
	assert.Error(t, err)
}
