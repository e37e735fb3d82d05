package handler

import (
	"github.com/labstack/echo/v4"

	"heartstring/internal/domain/entity"
	"heartstring/internal/usecase"
	"heartstring/pkg/response"
)

type ProfileHandler struct {
	profileUseCase *usecase.ProfileUseCase
}

func NewProfileHandler(profileUseCase *usecase.ProfileUseCase) *ProfileHandler {
	return &ProfileHandler{profileUseCase: profileUseCase}
}

type profileResponse struct {
	*entity.ProfileDetail
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (h *ProfileHandler) GetProfile(c echo.Context) error {
	detail, err := h.profileUseCase.GetProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, profileResponse{
		ProfileDetail: detail,
		DisplayName:   detail.DisplayName(),
		AvatarURL:     detail.AvatarURL(),
	})
}
