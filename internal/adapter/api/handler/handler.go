package handler

import (
	"encoding/json"

	"github.com/labstack/echo/v4"

	"heartstring/internal/domain/entity"
	"heartstring/pkg/errors"
	"heartstring/pkg/response"
	"heartstring/pkg/utils"
)

// currentUser returns the uid and raw token stored by the auth middleware.
func currentUser(c echo.Context) (string, string, error) {
	uid, _ := c.Get("uid").(string)
	token, _ := c.Get("token").(string)
	if uid == "" {
		return "", "", errors.NotAuthenticated(nil)
	}
	return uid, token, nil
}

// threadPayload is the wire shape of an open conversation.
type threadPayload struct {
	PartnerID string           `json:"partner_id"`
	Open      bool             `json:"open"`
	Messages  []entity.Message `json:"messages"`
}

func newThreadPayload(partnerID string, open bool, msgs []entity.Message) threadPayload {
	if msgs == nil {
		msgs = []entity.Message{}
	}
	return threadPayload{PartnerID: partnerID, Open: open, Messages: msgs}
}

// paginate renders a full list, or one page of it when ?limit is given.
func paginate[T any](c echo.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	params := utils.GetPaginationParams(c)
	if params.PageSize == 0 {
		return response.Success(c, items)
	}
	start, end := params.Window(len(items))
	return response.Paginated(c, items[start:end], int64(len(items)), params.Page, params.PageSize)
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.BadRequest("Missing message data", nil)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.BadRequest("Invalid message data", err)
	}
	return nil
}
