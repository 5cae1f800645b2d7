package repository

import (
	"context"
	"time"

	"collabdraw-server/internal/domain"
)

// BoardRepository stores one snapshot document per board. Get returns
// domain.ErrBoardNotFound for a board that was never saved.
type BoardRepository interface {
	Get(ctx context.Context, boardID string) (*domain.Board, error)
	Put(ctx context.Context, board *domain.Board) error
}

// ActionRepository is the append-only action feed of every board.
// Actions arrive with their Timestamp already assigned.
type ActionRepository interface {
	Append(ctx context.Context, boardID string, action domain.Action) error
	ListAfter(ctx context.Context, boardID string, after time.Time) ([]domain.Action, error)
	// Watch delivers every action with a timestamp after the given one:
	// first what is already stored, then new appends as they happen, in
	// ascending order. The channel is closed when ctx is done or the
	// underlying feed fails.
	Watch(ctx context.Context, boardID string, after time.Time) (<-chan []domain.Action, error)
}

// PresenceRepository tracks which clients are connected to a board.
type PresenceRepository interface {
	Join(ctx context.Context, boardID string, p domain.Participant) error
	Leave(ctx context.Context, boardID, clientID string) error
	List(ctx context.Context, boardID string) ([]domain.Participant, error)
}

// dedupe keeps only actions newer than *last, advancing it.
func dedupe(batch []domain.Action, last *time.Time) []domain.Action {
	out := batch[:0:0]
	for _, a := range batch {
		if a.Timestamp.After(*last) {
			out = append(out, a)
			*last = a.Timestamp
		}
	}
	return out
}
