package realtime

import (
	"context"
	"sync"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
)

// MemoryFeed is an in-process feed. Publish fans an event out to every matching
// subscription. Used for single-instance deployments and tests.
type MemoryFeed struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*subscription]struct{})}
}

func (f *MemoryFeed) Subscribe(_ context.Context, topic entity.Topic) (service.Subscription, error) {
	var sub *subscription
	sub = newSubscription(topic, func() error {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		return nil
	})

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	sub.activate()
	return sub, nil
}

func (f *MemoryFeed) Publish(_ context.Context, ev entity.ChangeEvent) error {
	f.mu.RLock()
	targets := make([]*subscription, 0, len(f.subs))
	for sub := range f.subs {
		targets = append(targets, sub)
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
	return nil
}

// Subscribers reports the number of open subscriptions.
func (f *MemoryFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
