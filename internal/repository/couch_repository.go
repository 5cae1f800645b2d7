package repository

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"collabdraw-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

type boardDoc struct {
	ID          string    `json:"_id"`
	Rev         string    `json:"_rev,omitempty"`
	Type        string    `json:"type"`
	BoardID     string    `json:"board_id"`
	CanvasState string    `json:"canvas_state"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type actionDoc struct {
	ID      string `json:"_id"`
	Type    string `json:"type"`
	BoardID string `json:"board_id"`
	TS      int64  `json:"ts"`
	domain.ActionRecord
}

func boardDocID(boardID string) string {
	return fmt.Sprintf("board:%s", boardID)
}

func actionPrefix(boardID string) string {
	return fmt.Sprintf("action:%s:", boardID)
}

// actionKey sorts lexically in timestamp order within a board.
func actionKey(boardID string, micros int64) string {
	return fmt.Sprintf("%s%016d", actionPrefix(boardID), micros)
}

// ActionDocID builds the document id of an action appended at ts.
func ActionDocID(boardID string, ts time.Time, nonce string) string {
	return actionKey(boardID, ts.UnixMicro()) + ":" + nonce
}

type couchBoardRepository struct {
	client *kivik.Client
	dbName string
}

func NewCouchBoardRepository(client *kivik.Client, dbName string) BoardRepository {
	return &couchBoardRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *couchBoardRepository) Get(ctx context.Context, boardID string) (*domain.Board, error) {
	db := r.client.DB(r.dbName)

	var doc boardDoc
	if err := db.Get(ctx, boardDocID(boardID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrBoardNotFound
		}
		return nil, fmt.Errorf("failed to get board: %w", err)
	}

	return &domain.Board{
		ID:          doc.BoardID,
		CanvasState: doc.CanvasState,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func (r *couchBoardRepository) Put(ctx context.Context, board *domain.Board) error {
	db := r.client.DB(r.dbName)
	docID := boardDocID(board.ID)

	doc := boardDoc{
		ID:          docID,
		Type:        "board",
		BoardID:     board.ID,
		CanvasState: board.CanvasState,
		UpdatedAt:   board.UpdatedAt,
	}

	rev, err := db.GetRev(ctx, docID)
	switch {
	case err == nil:
		doc.Rev = rev
	case kivik.HTTPStatus(err) != http.StatusNotFound:
		return fmt.Errorf("failed to fetch board revision: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save board: %w", err)
	}
	return nil
}

type couchActionRepository struct {
	client *kivik.Client
	dbName string
}

func NewCouchActionRepository(client *kivik.Client, dbName string) ActionRepository {
	return &couchActionRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *couchActionRepository) Append(ctx context.Context, boardID string, action domain.Action) error {
	db := r.client.DB(r.dbName)

	nonce := strings.SplitN(uuid.NewString(), "-", 2)[0]
	doc := actionDoc{
		ID:           ActionDocID(boardID, action.Timestamp, nonce),
		Type:         "action",
		BoardID:      boardID,
		TS:           action.Timestamp.UnixMicro(),
		ActionRecord: action.Record(),
	}

	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

func (r *couchActionRepository) ListAfter(ctx context.Context, boardID string, after time.Time) ([]domain.Action, error) {
	db := r.client.DB(r.dbName)

	rows := db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"include_docs": true,
		"startkey":     actionKey(boardID, after.UnixMicro()+1),
		"endkey":       actionPrefix(boardID) + "\ufff0",
	}))
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		var doc actionDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		a, err := doc.action()
		if err != nil {
			continue
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	return actions, nil
}

// Watch reads the database update sequence first, then the backlog, then
// follows the continuous changes feed from that sequence. Anything written
// between the two reads shows up in both and is dropped by timestamp.
func (r *couchActionRepository) Watch(ctx context.Context, boardID string, after time.Time) (<-chan []domain.Action, error) {
	db := r.client.DB(r.dbName)

	stats, err := db.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read database sequence: %w", err)
	}

	backlog, err := r.ListAfter(ctx, boardID, after)
	if err != nil {
		return nil, err
	}

	changes := db.Changes(ctx, kivik.Params(map[string]interface{}{
		"feed":         "continuous",
		"since":        stats.UpdateSeq,
		"include_docs": true,
		"heartbeat":    30000,
	}))

	out := make(chan []domain.Action)
	go func() {
		defer close(out)
		defer changes.Close()

		last := after
		send := func(batch []domain.Action) bool {
			batch = dedupe(batch, &last)
			if len(batch) == 0 {
				return true
			}
			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(backlog) {
			return
		}

		prefix := actionPrefix(boardID)
		for changes.Next() {
			if changes.Deleted() || !strings.HasPrefix(changes.ID(), prefix) {
				continue
			}
			var doc actionDoc
			if err := changes.ScanDoc(&doc); err != nil {
				continue
			}
			a, err := doc.action()
			if err != nil {
				continue
			}
			if !send([]domain.Action{a}) {
				return
			}
		}
	}()
	return out, nil
}

func (d actionDoc) action() (domain.Action, error) {
	a, err := d.ActionRecord.Action()
	if err != nil {
		return domain.Action{}, err
	}
	a.Timestamp = time.UnixMicro(d.TS).UTC()
	return a, nil
}
