package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
)

func TestMemoryFeedFansOutByTopic(t *testing.T) {
	feed := NewMemoryFeed()
	ctx := context.Background()

	inserts, err := feed.Subscribe(ctx, insertTopic)
	require.NoError(t, err)
	updates, err := feed.Subscribe(ctx, entity.Topic{Schema: "public", Table: "messages", Event: entity.EventUpdate})
	require.NoError(t, err)
	assert.Equal(t, service.Active, inserts.State())

	ev := entity.ChangeEvent{Schema: "public", Table: "messages", Type: entity.EventInsert, New: json.RawMessage(`{"id":"m1"}`)}
	require.NoError(t, feed.Publish(ctx, ev))

	select {
	case got := <-inserts.Events():
		assert.JSONEq(t, `{"id":"m1"}`, string(got.New))
	case <-time.After(time.Second):
		t.Fatal("insert not delivered")
	}
	assert.Len(t, updates.Events(), 0)

	require.NoError(t, inserts.Close())
	require.NoError(t, inserts.Close())
	assert.Equal(t, 1, feed.Subscribers())
	assert.Equal(t, service.Unsubscribed, inserts.State())

	require.NoError(t, feed.Publish(ctx, ev))
	assert.Len(t, inserts.Events(), 0)
}

func TestParseCommitTimestamp(t *testing.T) {
	for _, s := range []string{"2024-05-01T12:00:00Z", "2024-05-01T12:00:00.123456+00:00", "2024-05-01T12:00:00.1+00"} {
		assert.Equal(t, 2024, parseCommitTimestamp(s).Year(), s)
	}
	assert.True(t, parseCommitTimestamp("nope").IsZero())
}
