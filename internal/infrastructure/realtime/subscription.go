package realtime

import (
	"sync"
	"sync/atomic"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
)

const eventBuffer = 256

// subscription is the handle shared by every feed. Feeds push with deliver and
// release their transport in onClose.
type subscription struct {
	topic   entity.Topic
	events  chan entity.ChangeEvent
	done    chan struct{}
	state   atomic.Int32
	once    sync.Once
	onClose func() error
}

func newSubscription(topic entity.Topic, onClose func() error) *subscription {
	s := &subscription{
		topic:   topic,
		events:  make(chan entity.ChangeEvent, eventBuffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	s.state.Store(int32(service.Subscribing))
	return s
}

func (s *subscription) Topic() entity.Topic               { return s.topic }
func (s *subscription) Events() <-chan entity.ChangeEvent { return s.events }
func (s *subscription) Done() <-chan struct{}             { return s.done }

func (s *subscription) State() service.SubscriptionState {
	return service.SubscriptionState(s.state.Load())
}

func (s *subscription) activate() {
	s.state.CompareAndSwap(int32(service.Subscribing), int32(service.Active))
}

// deliver blocks until the consumer takes the event or the subscription ends.
func (s *subscription) deliver(ev entity.ChangeEvent) bool {
	if !s.topic.Matches(ev.Schema, ev.Table, ev.Type) {
		return true
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.state.Store(int32(service.Unsubscribed))
		close(s.done)
		if s.onClose != nil {
			err = s.onClose()
		}
	})
	return err
}
