package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/service"
	"collabdraw-server/pkg/response"
)

// writeError maps service errors onto the response envelope. Anything
// unrecognised is reported as fallback with a 500.
func writeError(w http.ResponseWriter, err error, fallback string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(w, verr.Error())
	case errors.Is(err, domain.ErrInvalidAction):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrBoardNotFound):
		response.NotFound(w, "Board not found")
	default:
		response.InternalError(w, fallback)
	}
}

// decodeJSON reads at most limit bytes of r's body into v. On failure it
// writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.Error(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	response.BadRequest(w, "Invalid request payload")
	return false
}
