// Package persist turns a board surface into a stored snapshot and back,
// and establishes the replay watermark after a load.
package persist

import (
	"context"
	"errors"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/render"
)

// Backend is the storage collaborator: a board document plus an
// append-only action feed with server-assigned timestamps.
type Backend interface {
	LoadBoard(ctx context.Context, boardID string) (*domain.Board, error)
	SaveBoard(ctx context.Context, boardID, canvasState string) (time.Time, error)
	AppendAction(ctx context.Context, boardID string, action domain.Action) (time.Time, error)
}

type Coordinator struct {
	backend Backend
	log     logging.Logger
}

func NewCoordinator(backend Backend, log logging.Logger) *Coordinator {
	return &Coordinator{backend: backend, log: log}
}

// Restored is the outcome of a load. When Found is false the board has
// never been saved, Surface is nil and Watermark is domain.Epoch.
type Restored struct {
	Surface   *render.Surface
	Watermark time.Time
	Found     bool
}

// Encode serialises the surface into the portable snapshot form.
func (c *Coordinator) Encode(s *render.Surface) (string, error) {
	uri, err := render.EncodeDataURI(s)
	if err != nil {
		return "", &Error{Kind: WriteFailure, Op: "save", Err: err}
	}
	return uri, nil
}

// Commit writes an encoded snapshot and returns the write time, which
// becomes the new watermark.
func (c *Coordinator) Commit(ctx context.Context, boardID, canvasState string) (time.Time, error) {
	updatedAt, err := c.backend.SaveBoard(ctx, boardID, canvasState)
	if err != nil {
		c.log.Error(ctx, "failed to save board", "board_id", boardID, "error", err)
		return time.Time{}, &Error{Kind: WriteFailure, Op: "save", Err: err}
	}
	updatedAt = domain.FeedTime(updatedAt)
	c.log.Info(ctx, "board saved", "board_id", boardID, "updated_at", updatedAt)
	return updatedAt, nil
}

func (c *Coordinator) Save(ctx context.Context, boardID string, s *render.Surface) (time.Time, error) {
	uri, err := c.Encode(s)
	if err != nil {
		return time.Time{}, err
	}
	return c.Commit(ctx, boardID, uri)
}

// Load reads the board snapshot and decodes it into a surface of the given
// size. A board that was never saved is not an error.
func (c *Coordinator) Load(ctx context.Context, boardID string, width, height int) (Restored, error) {
	board, err := c.backend.LoadBoard(ctx, boardID)
	if errors.Is(err, domain.ErrBoardNotFound) {
		c.log.Info(ctx, "board has no snapshot", "board_id", boardID)
		return Restored{Watermark: domain.Epoch}, nil
	}
	if err != nil {
		c.log.Error(ctx, "failed to load board", "board_id", boardID, "error", err)
		return Restored{}, &Error{Kind: ReadFailure, Op: "load", Err: err}
	}

	img, err := render.DecodeDataURI(board.CanvasState)
	if err != nil {
		c.log.Error(ctx, "failed to decode board snapshot", "board_id", boardID, "error", err)
		return Restored{}, &Error{Kind: DecodeFailure, Op: "load", Err: err}
	}

	return Restored{
		Surface:   render.FromImage(img, width, height),
		Watermark: domain.FeedTime(board.UpdatedAt),
		Found:     true,
	}, nil
}

// Append adds one action to the board feed. Failures are logged and
// returned; they are never retried here.
func (c *Coordinator) Append(ctx context.Context, boardID string, action domain.Action) (time.Time, error) {
	ts, err := c.backend.AppendAction(ctx, boardID, action)
	if err != nil {
		c.log.Warn(ctx, "failed to append action", "board_id", boardID, "tool", action.Tool(), "error", err)
		return time.Time{}, &Error{Kind: WriteFailure, Op: "append", Err: err}
	}
	return ts, nil
}
