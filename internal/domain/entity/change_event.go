package entity

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

const (
	SchemaPublic = "public"

	TableMessages     = "messages"
	TableProfiles     = "profiles"
	TableUserImages   = "user_images"
	TableUserSettings = "user_settings"
	TableBlockedUsers = "blocked_users"
)

// Topic selects the row changes a subscription receives.
type Topic struct {
	Schema string
	Table  string
	Event  EventType

	// UserID narrows a messages topic to rows the user sends or receives.
	// Feeds scoped by row level security ignore it.
	UserID string
}

func (t Topic) String() string {
	return t.Schema + "." + t.Table + ":" + string(t.Event)
}

// Matches reports whether an event of the given table and type belongs to the topic.
func (t Topic) Matches(schema, table string, ev EventType) bool {
	if t.Schema != schema || t.Table != table {
		return false
	}
	return t.Event == EventAll || t.Event == ev
}

// ChangeEvent is one row change delivered by a realtime feed. Old is empty when the
// backend does not replicate the previous row image.
type ChangeEvent struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            EventType       `json:"type"`
	New             json.RawMessage `json:"record,omitempty"`
	Old             json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

func (e *ChangeEvent) DecodeNew(v interface{}) error {
	return json.Unmarshal(e.New, v)
}

// DecodeOld returns false when no previous row image was delivered.
func (e *ChangeEvent) DecodeOld(v interface{}) (bool, error) {
	if len(e.Old) == 0 || string(e.Old) == "null" || string(e.Old) == "{}" {
		return false, nil
	}
	if err := json.Unmarshal(e.Old, v); err != nil {
		return false, err
	}
	return true, nil
}
