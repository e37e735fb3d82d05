package realtime

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
	"heartstring/pkg/logger"
)

// FirestoreFeed turns collection snapshot listeners into row change events. The
// collection is named after the topic's table; the schema is ignored. A messages
// topic carrying a user id listens only to that user's rows.
type FirestoreFeed struct {
	client *firestore.Client
}

func NewFirestoreFeed(client *firestore.Client) *FirestoreFeed {
	return &FirestoreFeed{client: client}
}

func (f *FirestoreFeed) Subscribe(ctx context.Context, topic entity.Topic) (service.Subscription, error) {
	listenCtx, cancel := context.WithCancel(context.Background())
	q := f.client.Collection(topic.Table).Query
	if filter, ok := userFilter(topic); ok {
		q = q.WhereEntity(filter)
	}
	it := q.Snapshots(listenCtx)

	sub := newSubscription(topic, func() error {
		cancel()
		it.Stop()
		return nil
	})
	go f.listen(it, sub)
	return sub, nil
}

// userFilter matches the messages topic.UserID sends or receives.
func userFilter(topic entity.Topic) (firestore.EntityFilter, bool) {
	if topic.UserID == "" || topic.Table != entity.TableMessages {
		return nil, false
	}
	return firestore.OrFilter{Filters: []firestore.EntityFilter{
		firestore.PropertyFilter{Path: "sender_id", Operator: "==", Value: topic.UserID},
		firestore.PropertyFilter{Path: "receiver_id", Operator: "==", Value: topic.UserID},
	}}, true
}

func (f *FirestoreFeed) listen(it *firestore.QuerySnapshotIterator, sub *subscription) {
	defer sub.Close()

	// The first snapshot is the current contents; it seeds the previous-row cache.
	prev := make(map[string]json.RawMessage)
	first := true

	for {
		snap, err := it.Next()
		if err != nil {
			if status.Code(err) != codes.Canceled {
				select {
				case <-sub.Done():
				default:
					logger.L().Warn("firestore listener stopped", zap.String("topic", sub.topic.String()), zap.Error(err))
				}
			}
			return
		}

		if first {
			first = false
			for _, doc := range snap.Changes {
				if raw, err := docJSON(doc.Doc); err == nil {
					prev[doc.Doc.Ref.ID] = raw
				}
			}
			sub.activate()
			continue
		}

		for _, change := range snap.Changes {
			id := change.Doc.Ref.ID
			ev := entity.ChangeEvent{
				Schema:          entity.SchemaPublic,
				Table:           sub.topic.Table,
				CommitTimestamp: snap.ReadTime,
			}

			switch change.Kind {
			case firestore.DocumentAdded:
				ev.Type = entity.EventInsert
			case firestore.DocumentModified:
				ev.Type = entity.EventUpdate
			case firestore.DocumentRemoved:
				ev.Type = entity.EventDelete
			}

			raw, err := docJSON(change.Doc)
			if err != nil {
				logger.L().Warn("skipping undecodable document", zap.String("id", id), zap.Error(err))
				continue
			}
			ev.Old = prev[id]
			if ev.Type == entity.EventDelete {
				ev.Old = raw
				delete(prev, id)
			} else {
				ev.New = raw
				prev[id] = raw
			}

			if !sub.deliver(ev) {
				return
			}
		}
	}
}

func docJSON(doc *firestore.DocumentSnapshot) (json.RawMessage, error) {
	data := doc.Data()
	if data == nil {
		data = map[string]interface{}{}
	}
	data["id"] = doc.Ref.ID
	for k, v := range data {
		if t, ok := v.(time.Time); ok {
			data[k] = t.UTC().Format(time.RFC3339Nano)
		}
	}
	return json.Marshal(data)
}
