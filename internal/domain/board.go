package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrBoardNotFound = errors.New("board not found")

// Epoch is the watermark of a board that has never been saved: every action
// in its feed is eligible for replay.
var Epoch = time.Unix(0, 0).UTC()

type Board struct {
	ID          string    `json:"id"`
	CanvasState string    `json:"canvasState"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type SaveBoardRequest struct {
	CanvasState string `json:"canvasState" validate:"required,startswith=data:image/"`
}

type SaveBoardResponse struct {
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateBoardResponse struct {
	ID string `json:"id"`
}

// NewBoardID returns a short random board identifier.
func NewBoardID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// FeedTime normalises a timestamp to the precision the feed stores.
func FeedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
