package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
	"heartstring/pkg/logger"
)

// NATSFeed consumes row changes relayed on core NATS subjects of the form
// <prefix>.<schema>.<table>.<EVENT>. There is no replay: a subscriber only sees
// changes published after it subscribed.
type NATSFeed struct {
	nc     *nats.Conn
	prefix string
}

func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func NewNATSFeed(nc *nats.Conn, prefix string) *NATSFeed {
	if prefix == "" {
		prefix = "realtime"
	}
	return &NATSFeed{nc: nc, prefix: prefix}
}

func subjectFor(prefix string, topic entity.Topic) string {
	ev := string(topic.Event)
	if topic.Event == entity.EventAll || ev == "" {
		ev = "*"
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, topic.Schema, topic.Table, ev)
}

func (f *NATSFeed) Subscribe(ctx context.Context, topic entity.Topic) (service.Subscription, error) {
	var ns *nats.Subscription
	sub := newSubscription(topic, func() error {
		if ns == nil {
			return nil
		}
		if err := ns.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			return err
		}
		return nil
	})

	subject := subjectFor(f.prefix, topic)
	var err error
	ns, err = f.nc.Subscribe(subject, func(msg *nats.Msg) {
		var p changePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			logger.L().Warn("malformed change on NATS", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		sub.deliver(p.toEvent())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		err = f.nc.FlushTimeout(time.Until(deadline))
	} else {
		err = f.nc.Flush()
	}
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to confirm subscription %s: %w", subject, err)
	}

	sub.activate()
	return sub, nil
}

// NATSPublisher relays change events onto the subjects NATSFeed listens to.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "realtime"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Publish(_ context.Context, ev entity.ChangeEvent) error {
	data, err := json.Marshal(payloadFromEvent(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	subject := subjectFor(p.prefix, entity.Topic{Schema: ev.Schema, Table: ev.Table, Event: ev.Type})
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish change to %s: %w", subject, err)
	}
	return nil
}
