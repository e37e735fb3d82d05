package realtime

import (
	"encoding/json"
	"time"

	"heartstring/internal/domain/entity"
)

// changePayload is the postgres_changes "data" object of Supabase Realtime. The
// NATS bridge uses the same shape.
type changePayload struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp string          `json:"commit_timestamp,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
}

func parseCommitTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (p *changePayload) toEvent() entity.ChangeEvent {
	return entity.ChangeEvent{
		Schema:          p.Schema,
		Table:           p.Table,
		Type:            entity.EventType(p.Type),
		New:             p.Record,
		Old:             p.OldRecord,
		CommitTimestamp: parseCommitTimestamp(p.CommitTimestamp),
	}
}

func payloadFromEvent(ev entity.ChangeEvent) changePayload {
	ts := ev.CommitTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return changePayload{
		Schema:          ev.Schema,
		Table:           ev.Table,
		Type:            string(ev.Type),
		Record:          ev.New,
		OldRecord:       ev.Old,
		CommitTimestamp: ts.Format(time.RFC3339Nano),
	}
}
