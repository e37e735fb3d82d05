package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "heartstring/pkg/errors"
	"heartstring/pkg/logger"
)

// Message types pushed to clients.
const (
	MessageTypePong                 = "pong"
	MessageTypeAck                  = "ack"
	MessageTypeError                = "error"
	MessageTypeConversationsUpdated = "conversations_updated"
	MessageTypeThreadUpdated        = "thread_updated"
)

// Command types accepted from clients.
const (
	MessageTypePing              = "ping"
	MessageTypeRefresh           = "refresh"
	MessageTypeOpenConversation  = "open_conversation"
	MessageTypeCloseConversation = "close_conversation"
	MessageTypeSendMessage       = "send_message"
	MessageTypeDeleteMessage     = "delete_message"
)

// WSMessage is the envelope of every frame in both directions. RequestID is
// echoed on the ack or error answering a command.
type WSMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type OpenConversationData struct {
	PartnerID string `json:"partner_id"`
}

type SendMessageData struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

type DeleteMessageData struct {
	MessageID string `json:"message_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandHandler executes a client command for userID and returns the ack payload.
type CommandHandler interface {
	HandleCommand(ctx context.Context, userID string, msg WSMessage) (interface{}, error)
}

// Encode builds an outbound frame.
func Encode(msgType, requestID string, data interface{}) ([]byte, error) {
	msg := WSMessage{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// SendJSON pushes a typed frame to every client of the user.
func (m *Manager) SendJSON(userID, msgType string, data interface{}) int {
	frame, err := Encode(msgType, "", data)
	if err != nil {
		logger.L().Error("encode websocket frame", zap.String("type", msgType), zap.Error(err))
		return 0
	}
	return m.SendToUser(userID, frame)
}

// HandleClientMessage answers one inbound frame on the client it came from.
func (m *Manager) HandleClientMessage(ctx context.Context, client *Client, raw []byte) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.reply(client, MessageTypeError, "", ErrorData{Code: apperrors.CodeBadRequest, Message: "Invalid message format"})
		return
	}

	if msg.Type == MessageTypePing {
		m.reply(client, MessageTypePong, msg.RequestID, nil)
		return
	}
	if m.commands == nil {
		m.reply(client, MessageTypeError, msg.RequestID, ErrorData{Code: apperrors.CodeBadRequest, Message: "Commands are not supported"})
		return
	}

	result, err := m.commands.HandleCommand(ctx, client.UserID, msg)
	if err != nil {
		data := ErrorData{Code: apperrors.CodeOf(err), Message: "Command failed"}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			data.Message = appErr.Message
		}
		logger.L().Debug("websocket command failed",
			zap.String("user_id", client.UserID), zap.String("type", msg.Type), zap.Error(err))
		m.reply(client, MessageTypeError, msg.RequestID, data)
		return
	}
	m.reply(client, MessageTypeAck, msg.RequestID, result)
}

func (m *Manager) reply(client *Client, msgType, requestID string, data interface{}) {
	frame, err := Encode(msgType, requestID, data)
	if err != nil {
		logger.L().Error("encode websocket reply", zap.String("type", msgType), zap.Error(err))
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.clients[client.UserID][client]; !ok {
		return
	}
	select {
	case client.Send <- frame:
	default:
		logger.L().Warn("websocket reply dropped", zap.String("user_id", client.UserID), zap.String("type", msgType))
	}
}
