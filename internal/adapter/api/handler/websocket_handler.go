package handler

import (
	"context"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	ws "heartstring/internal/infrastructure/websocket"
	"heartstring/internal/usecase"
	"heartstring/pkg/errors"
	"heartstring/pkg/logger"
	"heartstring/pkg/response"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler streams session changes to clients and executes the
// commands they send.
type WebSocketHandler struct {
	wsManager *ws.Manager
	sessions  *usecase.SessionManager
}

func NewWebSocketHandler(wsManager *ws.Manager, sessions *usecase.SessionManager) *WebSocketHandler {
	h := &WebSocketHandler{
		wsManager: wsManager,
		sessions:  sessions,
	}

	wsManager.SetCommandHandler(h)
	wsManager.OnDisconnect(func(userID string, _ int) {
		sessions.Detach(userID)
	})
	sessions.OnChange(h.push)
	return h
}

func (h *WebSocketHandler) push(userID string, kind usecase.ChangeKind, s *usecase.Session) {
	switch kind {
	case usecase.ConversationsUpdated:
		h.wsManager.SendJSON(userID, ws.MessageTypeConversationsUpdated, s.Conversations())
	case usecase.ThreadUpdated:
		partner, msgs, open := s.Thread()
		h.wsManager.SendJSON(userID, ws.MessageTypeThreadUpdated, newThreadPayload(partner, open, msgs))
	}
}

func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	uid, token, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	sess, err := h.sessions.Acquire(c.Request().Context(), uid, token)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", zap.String("user_id", uid), zap.Error(err))
		return nil
	}

	client := ws.NewClient(uid, conn)
	if !h.sessions.Attach(uid) {
		conn.Close()
		return nil
	}

	// Initial snapshot, queued before the client is visible to fan-out.
	if frame, err := ws.Encode(ws.MessageTypeConversationsUpdated, "", sess.Conversations()); err == nil {
		client.Send <- frame
	}
	if partner, msgs, open := sess.Thread(); open {
		if frame, err := ws.Encode(ws.MessageTypeThreadUpdated, "", newThreadPayload(partner, open, msgs)); err == nil {
			client.Send <- frame
		}
	}

	h.wsManager.Register <- client

	go client.WritePump()
	go client.ReadPump(context.Background(), h.wsManager)
	return nil
}

// HandleCommand runs one client command against the user's session.
func (h *WebSocketHandler) HandleCommand(ctx context.Context, userID string, msg ws.WSMessage) (interface{}, error) {
	sess, ok := h.sessions.Get(userID)
	if !ok {
		return nil, errors.Conflict("Session is not open")
	}

	switch msg.Type {
	case ws.MessageTypeRefresh:
		if err := sess.Refresh(ctx); err != nil {
			return nil, err
		}
		return sess.Conversations(), nil

	case ws.MessageTypeOpenConversation:
		var data ws.OpenConversationData
		if err := decode(msg.Data, &data); err != nil {
			return nil, err
		}
		msgs, err := sess.OpenConversation(ctx, data.PartnerID)
		if err != nil {
			return nil, err
		}
		return newThreadPayload(data.PartnerID, true, msgs), nil

	case ws.MessageTypeCloseConversation:
		sess.CloseConversation()
		return newThreadPayload("", false, nil), nil

	case ws.MessageTypeSendMessage:
		var data ws.SendMessageData
		if err := decode(msg.Data, &data); err != nil {
			return nil, err
		}
		return sess.SendMessage(ctx, usecase.SendMessageInput{
			ReceiverID: data.ReceiverID,
			Content:    data.Content,
		})

	case ws.MessageTypeDeleteMessage:
		var data ws.DeleteMessageData
		if err := decode(msg.Data, &data); err != nil {
			return nil, err
		}
		if err := sess.DeleteMessage(ctx, data.MessageID); err != nil {
			return nil, err
		}
		return map[string]string{"id": data.MessageID}, nil

	default:
		return nil, errors.BadRequest("Unknown message type: "+msg.Type, nil)
	}
}
