package handler

import (
	"net/http"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/service"
	"collabdraw-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

const maxPromptBody = 64 << 10

type BackgroundHandler struct {
	service  *service.BackgroundService
	validate *validator.Validate
}

func NewBackgroundHandler(service *service.BackgroundService) *BackgroundHandler {
	return &BackgroundHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *BackgroundHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateBackgroundRequest
	if !decodeJSON(w, r, maxPromptBody, &req) {
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	bg, err := h.service.GenerateBackground(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, err, "Failed to generate background")
		return
	}

	response.Success(w, bg)
}
