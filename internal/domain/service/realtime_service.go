package service

import (
	"context"

	"heartstring/internal/domain/entity"
)

type SubscriptionState int32

const (
	Unsubscribed SubscriptionState = iota
	Subscribing
	Active
)

func (s SubscriptionState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	default:
		return "unsubscribed"
	}
}

// RealtimeFeed delivers row changes for a (schema, table, event) topic.
type RealtimeFeed interface {
	Subscribe(ctx context.Context, topic entity.Topic) (Subscription, error)
}

// Subscription is a live handle on one topic. Events is never closed; consumers
// select on Done to learn that the subscription ended. Close is idempotent.
type Subscription interface {
	Topic() entity.Topic
	Events() <-chan entity.ChangeEvent
	Done() <-chan struct{}
	State() SubscriptionState
	Close() error
}

// ChangePublisher emits row change events for feeds that have no database-side
// change capture.
type ChangePublisher interface {
	Publish(ctx context.Context, ev entity.ChangeEvent) error
}
