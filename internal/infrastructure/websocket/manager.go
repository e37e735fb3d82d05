package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"heartstring/internal/infrastructure/metrics"
	"heartstring/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Client is one websocket connection of a user.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, Conn: conn, Send: make(chan []byte, sendBuffer)}
}

// Manager tracks the connected clients of every user. A user may hold several
// connections; each receives every message sent to the user.
type Manager struct {
	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}

	commands     CommandHandler
	onDisconnect func(userID string, remaining int)
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (m *Manager) SetCommandHandler(h CommandHandler) {
	m.commands = h
}

// OnDisconnect registers a callback run after a client is removed.
func (m *Manager) OnDisconnect(fn func(userID string, remaining int)) {
	m.onDisconnect = fn
}

// Start runs the registration loop until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				set, ok := m.clients[client.UserID]
				if !ok {
					set = make(map[*Client]struct{})
					m.clients[client.UserID] = set
				}
				set[client] = struct{}{}
				m.mutex.Unlock()
				metrics.WSClients.Inc()
				logger.L().Debug("websocket client registered", zap.String("user_id", client.UserID))

			case client := <-m.Unregister:
				m.remove(client)

			case <-ctx.Done():
				close(m.done)
				return
			}
		}
	}()
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	set, ok := m.clients[client.UserID]
	if _, present := set[client]; !ok || !present {
		m.mutex.Unlock()
		return
	}
	delete(set, client)
	close(client.Send)
	remaining := len(set)
	if remaining == 0 {
		delete(m.clients, client.UserID)
	}
	m.mutex.Unlock()

	metrics.WSClients.Dec()
	logger.L().Debug("websocket client unregistered",
		zap.String("user_id", client.UserID), zap.Int("remaining", remaining))
	if m.onDisconnect != nil {
		m.onDisconnect(client.UserID, remaining)
	}
}

// SendToUser queues message for every client of the user and returns how many
// accepted it. Clients whose buffer is full are disconnected.
func (m *Manager) SendToUser(userID string, message []byte) int {
	var slow []*Client
	delivered := 0

	m.mutex.RLock()
	for client := range m.clients[userID] {
		select {
		case client.Send <- message:
			delivered++
		default:
			slow = append(slow, client)
		}
	}
	m.mutex.RUnlock()

	for _, client := range slow {
		logger.L().Warn("dropping slow websocket client", zap.String("user_id", userID))
		m.remove(client)
	}
	return delivered
}

func (m *Manager) ClientCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// ReadPump reads client commands until the connection fails.
func (c *Client) ReadPump(ctx context.Context, m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-m.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L().Warn("websocket read failed", zap.String("user_id", c.UserID), zap.Error(err))
			}
			return
		}
		m.HandleClientMessage(ctx, c, message)
	}
}

// WritePump drains Send and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.L().Debug("websocket write failed", zap.String("user_id", c.UserID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
