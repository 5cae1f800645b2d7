package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/feed"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/repository"

	"github.com/go-playground/validator/v10"
)

// BoardService is the storage side of the whiteboard: board snapshots,
// the per-board action feed and its subscriptions. It satisfies
// session.Backend for in-process sessions.
type BoardService struct {
	boards   repository.BoardRepository
	actions  repository.ActionRepository
	clock    *FeedClock
	log      logging.Logger
	validate *validator.Validate

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewBoardService(
	boards repository.BoardRepository,
	actions repository.ActionRepository,
	clock *FeedClock,
	log logging.Logger,
) *BoardService {
	return &BoardService{
		boards:   boards,
		actions:  actions,
		clock:    clock,
		log:      log,
		validate: validator.New(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock serialises timestamp assignment and the write that follows, so a
// board's feed is committed in timestamp order.
func (s *BoardService) lock(boardID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[boardID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[boardID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *BoardService) ValidateBoardID(boardID string) error {
	if err := s.validate.Var(boardID, "required,max=64,printascii,excludesall=:/?#% "); err != nil {
		return &ValidationError{Field: "board id", Err: ErrInvalidBoardID}
	}
	return nil
}

// CreateBoard mints an identifier. The board itself comes into existence
// on its first save.
func (s *BoardService) CreateBoard() *domain.CreateBoardResponse {
	return &domain.CreateBoardResponse{ID: domain.NewBoardID()}
}

func (s *BoardService) LoadBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	if err := s.ValidateBoardID(boardID); err != nil {
		return nil, err
	}
	return s.boards.Get(ctx, boardID)
}

// SaveBoard overwrites the snapshot and returns its updatedAt, which the
// caller uses as its new replay watermark.
func (s *BoardService) SaveBoard(ctx context.Context, boardID, canvasState string) (time.Time, error) {
	if err := s.ValidateBoardID(boardID); err != nil {
		return time.Time{}, err
	}
	unlock := s.lock(boardID)
	defer unlock()

	board := &domain.Board{
		ID:          boardID,
		CanvasState: canvasState,
		UpdatedAt:   s.clock.Next(boardID),
	}
	if err := s.boards.Put(ctx, board); err != nil {
		return time.Time{}, err
	}

	s.log.Info(ctx, "board saved", "board_id", boardID, "updated_at", board.UpdatedAt, "bytes", len(canvasState))
	return board.UpdatedAt, nil
}

// AppendAction stamps the action with the next feed timestamp and stores
// it. Any timestamp set by the caller is replaced.
func (s *BoardService) AppendAction(ctx context.Context, boardID string, action domain.Action) (time.Time, error) {
	if err := s.ValidateBoardID(boardID); err != nil {
		return time.Time{}, err
	}
	if action.Shape == nil {
		return time.Time{}, fmt.Errorf("%w: missing shape", domain.ErrInvalidAction)
	}
	if err := s.validate.Struct(action.Record()); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", domain.ErrInvalidAction, err)
	}

	unlock := s.lock(boardID)
	defer unlock()

	action.Timestamp = s.clock.Next(boardID)
	if err := s.actions.Append(ctx, boardID, action); err != nil {
		return time.Time{}, err
	}

	s.log.Debug(ctx, "action appended", "board_id", boardID, "tool", action.Tool(), "client_id", action.ClientID, "timestamp", action.Timestamp)
	return action.Timestamp, nil
}

func (s *BoardService) ListActions(ctx context.Context, boardID string, after time.Time) ([]domain.Action, error) {
	if err := s.ValidateBoardID(boardID); err != nil {
		return nil, err
	}
	return s.actions.ListAfter(ctx, boardID, domain.FeedTime(after))
}

// Subscribe opens a feed of actions strictly after the given watermark.
func (s *BoardService) Subscribe(ctx context.Context, boardID string, after time.Time) (feed.Subscription, error) {
	if err := s.ValidateBoardID(boardID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, err := s.actions.Watch(ctx, boardID, domain.FeedTime(after))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch board feed: %w", err)
	}
	return feed.NewSubscription(ch, cancel), nil
}
