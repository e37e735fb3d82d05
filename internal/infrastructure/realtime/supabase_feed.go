package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
	"heartstring/pkg/logger"
)

const (
	phxJoin        = "phx_join"
	phxLeave       = "phx_leave"
	phxReply       = "phx_reply"
	phxError       = "phx_error"
	phxClose       = "phx_close"
	phxHeartbeat   = "heartbeat"
	phxAccessToken = "access_token"
	phxSystem      = "system"
	pgChanges      = "postgres_changes"

	writeWait = 10 * time.Second
)

// TokenSource returns the access token sent with channel joins. Returning a new
// value later rotates the token on live channels.
type TokenSource func(ctx context.Context) (string, error)

type SupabaseConfig struct {
	URL       string
	APIKey    string
	Heartbeat time.Duration
	Dialer    *websocket.Dialer
}

// SupabaseFeed subscribes to Postgres changes through Supabase Realtime. Each
// subscription owns one websocket carrying one Phoenix channel.
type SupabaseFeed struct {
	cfg   SupabaseConfig
	token TokenSource
}

func NewSupabaseFeed(cfg SupabaseConfig, token TokenSource) *SupabaseFeed {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &SupabaseFeed{cfg: cfg, token: token}
}

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phxReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type pgChangesPayload struct {
	Data changePayload `json:"data"`
	IDs  []int64       `json:"ids"`
}

type pgChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config struct {
		Broadcast       map[string]bool   `json:"broadcast"`
		Presence        map[string]string `json:"presence"`
		PostgresChanges []pgChangeFilter  `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

func (f *SupabaseFeed) endpoint() (string, error) {
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid supabase url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", f.cfg.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *SupabaseFeed) Subscribe(ctx context.Context, topic entity.Topic) (service.Subscription, error) {
	endpoint, err := f.endpoint()
	if err != nil {
		return nil, err
	}

	var token string
	if f.token != nil {
		if token, err = f.token(ctx); err != nil {
			return nil, err
		}
	}

	conn, _, err := f.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime: %w", err)
	}

	ch := &phoenixChannel{
		conn:      conn,
		name:      "realtime:" + strings.ReplaceAll(topic.String(), ":", "-"),
		token:     token,
		tokenFn:   f.token,
		heartbeat: f.cfg.Heartbeat,
	}
	sub := newSubscription(topic, ch.leave)
	ch.sub = sub

	if err := ch.join(topic); err != nil {
		conn.Close()
		return nil, err
	}

	go ch.readLoop()
	go ch.heartbeatLoop()
	return sub, nil
}

type phoenixChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	name      string
	ref       atomic.Int64
	joinRef   string
	token     string
	tokenFn   TokenSource
	heartbeat time.Duration
	sub       *subscription
}

func (c *phoenixChannel) nextRef() string {
	return strconv.FormatInt(c.ref.Add(1), 10)
}

func (c *phoenixChannel) send(topic, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ref := c.nextRef()
	msg := phxMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	if topic == c.name && c.joinRef != "" {
		msg.JoinRef = &c.joinRef
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *phoenixChannel) join(topic entity.Topic) error {
	var p joinPayload
	p.Config.Broadcast = map[string]bool{"self": false}
	p.Config.Presence = map[string]string{"key": ""}
	p.Config.PostgresChanges = []pgChangeFilter{{
		Event:  string(topic.Event),
		Schema: topic.Schema,
		Table:  topic.Table,
	}}
	p.AccessToken = c.token

	c.joinRef = strconv.FormatInt(c.ref.Load()+1, 10)
	if err := c.send(c.name, phxJoin, p); err != nil {
		return fmt.Errorf("failed to join %s: %w", c.name, err)
	}
	return nil
}

func (c *phoenixChannel) readLoop() {
	defer c.sub.Close()

	for {
		var msg phxMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.sub.Done():
			default:
				logger.L().Warn("realtime connection lost", zap.String("channel", c.name), zap.Error(err))
			}
			return
		}
		if msg.Topic != c.name {
			continue
		}

		switch msg.Event {
		case phxReply:
			var reply phxReplyPayload
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				continue
			}
			if msg.Ref != nil && *msg.Ref == c.joinRef {
				if reply.Status != "ok" {
					logger.L().Error("realtime join rejected",
						zap.String("channel", c.name), zap.ByteString("response", reply.Response))
					return
				}
				c.sub.activate()
			}
		case pgChanges:
			var p pgChangesPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				logger.L().Warn("malformed change payload", zap.String("channel", c.name), zap.Error(err))
				continue
			}
			if !c.sub.deliver(p.Data.toEvent()) {
				return
			}
		case phxSystem:
			var reply phxReplyPayload
			if json.Unmarshal(msg.Payload, &reply) == nil && reply.Status == "error" {
				logger.L().Error("realtime subscription error",
					zap.String("channel", c.name), zap.ByteString("payload", msg.Payload))
				return
			}
		case phxError, phxClose:
			logger.L().Warn("realtime channel closed by server", zap.String("channel", c.name), zap.String("event", msg.Event))
			return
		}
	}
}

func (c *phoenixChannel) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.sub.Done():
			return
		case <-ticker.C:
			if err := c.send("phoenix", phxHeartbeat, struct{}{}); err != nil {
				logger.L().Warn("realtime heartbeat failed", zap.String("channel", c.name), zap.Error(err))
				c.sub.Close()
				return
			}
			c.rotateToken()
		}
	}
}

func (c *phoenixChannel) rotateToken() {
	if c.tokenFn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	token, err := c.tokenFn(ctx)
	if err != nil || token == "" || token == c.token {
		return
	}
	if err := c.send(c.name, phxAccessToken, map[string]string{"access_token": token}); err == nil {
		c.token = token
	}
}

func (c *phoenixChannel) leave() error {
	c.send(c.name, phxLeave, struct{}{})

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
