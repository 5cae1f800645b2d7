package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/repository"
	"collabdraw-server/internal/service"
	"collabdraw-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const defaultMaxBodySize = 32 << 20

type BoardHandler struct {
	boards   *service.BoardService
	exports  *service.ExportService
	presence repository.PresenceRepository
	validate *validator.Validate
	maxBody  int64
	log      logging.Logger
}

func NewBoardHandler(
	boards *service.BoardService,
	exports *service.ExportService,
	presence repository.PresenceRepository,
	maxBody int64,
	log logging.Logger,
) *BoardHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	return &BoardHandler{
		boards:   boards,
		exports:  exports,
		presence: presence,
		validate: validator.New(),
		maxBody:  maxBody,
		log:      log,
	}
}

func (h *BoardHandler) Create(w http.ResponseWriter, r *http.Request) {
	response.Created(w, h.boards.CreateBoard())
}

func (h *BoardHandler) Get(w http.ResponseWriter, r *http.Request) {
	board, err := h.boards.LoadBoard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "Failed to load board")
		return
	}

	response.Success(w, board)
}

func (h *BoardHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveBoardRequest
	if !decodeJSON(w, r, h.maxBody, &req) {
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	updatedAt, err := h.boards.SaveBoard(r.Context(), mux.Vars(r)["id"], req.CanvasState)
	if err != nil {
		h.log.Error(r.Context(), "failed to save board", "error", err)
		writeError(w, err, "Failed to save board")
		return
	}

	response.Success(w, &domain.SaveBoardResponse{UpdatedAt: updatedAt})
}

func (h *BoardHandler) AppendAction(w http.ResponseWriter, r *http.Request) {
	var rec domain.ActionRecord
	if !decodeJSON(w, r, h.maxBody, &rec) {
		return
	}

	if err := h.validate.Struct(rec); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	action, err := rec.Action()
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	ts, err := h.boards.AppendAction(r.Context(), mux.Vars(r)["id"], action)
	if err != nil {
		h.log.Error(r.Context(), "failed to append action", "error", err)
		writeError(w, err, "Failed to append action")
		return
	}

	response.Created(w, &domain.AppendActionResponse{Timestamp: ts})
}

// ListActions returns the feed after the optional "after" watermark
// (RFC 3339).
func (h *BoardHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	after, err := parseAfter(r.URL.Query().Get("after"))
	if err != nil {
		response.BadRequest(w, "Invalid after timestamp")
		return
	}

	actions, err := h.boards.ListActions(r.Context(), mux.Vars(r)["id"], after)
	if err != nil {
		writeError(w, err, "Failed to list actions")
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}

	response.Success(w, actions)
}

func (h *BoardHandler) ExportPNG(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "image/png", ".png", h.exports.ExportPNG)
}

func (h *BoardHandler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "application/pdf", ".pdf", h.exports.ExportPDF)
}

func (h *BoardHandler) export(
	w http.ResponseWriter,
	r *http.Request,
	contentType, ext string,
	write func(ctx context.Context, boardID string, w io.Writer) error,
) {
	boardID := mux.Vars(r)["id"]
	if err := h.boards.ValidateBoardID(boardID); err != nil {
		writeError(w, err, "")
		return
	}

	var buf bytes.Buffer
	if err := write(r.Context(), boardID, &buf); err != nil {
		h.log.Error(r.Context(), "failed to export board", "board_id", boardID, "error", err)
		response.InternalError(w, "Failed to export board")
		return
	}

	response.Attachment(w, contentType, "collab-draw-"+boardID+ext, buf.Bytes())
}

func (h *BoardHandler) Participants(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]
	if err := h.boards.ValidateBoardID(boardID); err != nil {
		writeError(w, err, "")
		return
	}

	participants, err := h.presence.List(r.Context(), boardID)
	if err != nil {
		h.log.Error(r.Context(), "failed to list participants", "board_id", boardID, "error", err)
		response.InternalError(w, "Failed to list participants")
		return
	}

	response.Success(w, participants)
}

func parseAfter(s string) (time.Time, error) {
	if s == "" {
		return domain.Epoch, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
