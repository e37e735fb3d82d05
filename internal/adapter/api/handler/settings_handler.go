package handler

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/domain/entity"
	"heartstring/internal/usecase"
	"heartstring/pkg/errors"
	"heartstring/pkg/response"
)

type SettingsHandler struct {
	settingsUseCase *usecase.SettingsUseCase
}

func NewSettingsHandler(settingsUseCase *usecase.SettingsUseCase) *SettingsHandler {
	return &SettingsHandler{settingsUseCase: settingsUseCase}
}

type blockUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (h *SettingsHandler) GetSettings(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	settings, err := h.settingsUseCase.GetSettings(c.Request().Context(), uid)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, settings)
}

func (h *SettingsHandler) UpdateSettings(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	var patch entity.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	settings, err := h.settingsUseCase.UpdateSettings(c.Request().Context(), uid, patch)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, settings)
}

func (h *SettingsHandler) ListBlockedUsers(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	blocked, err := h.settingsUseCase.ListBlockedUsers(c.Request().Context(), uid)
	if err != nil {
		return response.Error(c, err)
	}
	return paginate(c, blocked)
}

func (h *SettingsHandler) BlockUser(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req blockUserRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	blocked, err := h.settingsUseCase.BlockUser(c.Request().Context(), uid, req.UserID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, blocked)
}

func (h *SettingsHandler) UnblockUser(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	id := c.Param("id")
	if err := h.settingsUseCase.UnblockUser(c.Request().Context(), uid, id); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"id": id})
}
