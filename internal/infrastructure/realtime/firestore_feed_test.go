package realtime

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartstring/internal/domain/entity"
)

func TestUserFilterScopesMessagesToParticipant(t *testing.T) {
	topic := entity.Topic{Schema: entity.SchemaPublic, Table: entity.TableMessages, Event: entity.EventInsert, UserID: "u1"}

	filter, ok := userFilter(topic)
	require.True(t, ok)
	assert.Equal(t, firestore.OrFilter{Filters: []firestore.EntityFilter{
		firestore.PropertyFilter{Path: "sender_id", Operator: "==", Value: "u1"},
		firestore.PropertyFilter{Path: "receiver_id", Operator: "==", Value: "u1"},
	}}, filter)
}

func TestUserFilterLeavesOtherTopicsUnfiltered(t *testing.T) {
	_, ok := userFilter(entity.Topic{Schema: entity.SchemaPublic, Table: entity.TableMessages, Event: entity.EventAll})
	assert.False(t, ok, "no user id")

	_, ok = userFilter(entity.Topic{Schema: entity.SchemaPublic, Table: entity.TableProfiles, Event: entity.EventAll, UserID: "u1"})
	assert.False(t, ok, "not a messages topic")
}
