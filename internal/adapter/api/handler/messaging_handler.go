package handler

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/usecase"
	"heartstring/pkg/errors"
	"heartstring/pkg/response"
)

type MessagingHandler struct {
	sessions *usecase.SessionManager
}

func NewMessagingHandler(sessions *usecase.SessionManager) *MessagingHandler {
	return &MessagingHandler{sessions: sessions}
}

type sendMessageRequest struct {
	Content string `json:"content" form:"content" validate:"max=4000"`
}

func (h *MessagingHandler) session(c echo.Context) (*usecase.Session, error) {
	uid, token, err := currentUser(c)
	if err != nil {
		return nil, err
	}
	return h.sessions.Acquire(c.Request().Context(), uid, token)
}

// GetConversations lists the user's conversations, newest first.
func (h *MessagingHandler) GetConversations(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}
	return paginate(c, sess.Conversations())
}

func (h *MessagingHandler) RefreshConversations(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}
	if err := sess.Refresh(c.Request().Context()); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, sess.Conversations())
}

// OpenConversation loads the thread with a partner and marks it read.
func (h *MessagingHandler) OpenConversation(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	partnerID := c.Param("partnerId")
	msgs, err := sess.OpenConversation(c.Request().Context(), partnerID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, newThreadPayload(partnerID, true, msgs))
}

func (h *MessagingHandler) CloseConversation(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}
	sess.CloseConversation()
	return response.Success(c, newThreadPayload("", false, nil))
}

// GetMessages returns the open thread. The conversation must be opened first.
func (h *MessagingHandler) GetMessages(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	partner, msgs, open := sess.Thread()
	if !open || partner != c.Param("partnerId") {
		return response.Error(c, errors.Conflict("Conversation is not open"))
	}
	return paginate(c, msgs)
}

// SendMessage accepts JSON, or multipart with an optional "image" file.
func (h *MessagingHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	input := usecase.SendMessageInput{
		ReceiverID: c.Param("partnerId"),
		Content:    req.Content,
	}

	if file, err := c.FormFile("image"); err == nil {
		src, err := file.Open()
		if err != nil {
			return response.Error(c, errors.BadRequest("Failed to read image", err))
		}
		defer src.Close()
		input.Image = src
		input.ImageType = file.Header.Get("Content-Type")
	}

	msg, err := sess.SendMessage(c.Request().Context(), input)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, msg)
}

func (h *MessagingHandler) DeleteMessage(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	id := c.Param("id")
	if err := sess.DeleteMessage(c.Request().Context(), id); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"id": id})
}
