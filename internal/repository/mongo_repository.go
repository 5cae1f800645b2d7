package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collabdraw-server/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	BoardsCollection  = "boards"
	ActionsCollection = "actions"
)

type mongoBoard struct {
	ID          string    `bson:"_id"`
	CanvasState string    `bson:"canvas_state"`
	UpdatedAt   time.Time `bson:"updated_at"`
	// UpdatedAtMicros keeps the full feed precision; BSON dates stop at
	// milliseconds.
	UpdatedAtMicros int64 `bson:"updated_at_us"`
}

type mongoAction struct {
	BoardID             string `bson:"board_id"`
	TS                  int64  `bson:"ts"`
	domain.ActionRecord `bson:",inline"`
}

func (d mongoAction) action() (domain.Action, error) {
	a, err := d.ActionRecord.Action()
	if err != nil {
		return domain.Action{}, err
	}
	a.Timestamp = time.UnixMicro(d.TS).UTC()
	return a, nil
}

type MongoBoardRepository struct {
	collection *mongo.Collection
}

func NewMongoBoardRepository(collection *mongo.Collection) *MongoBoardRepository {
	return &MongoBoardRepository{collection: collection}
}

func (r *MongoBoardRepository) Get(ctx context.Context, boardID string) (*domain.Board, error) {
	var doc mongoBoard
	err := r.collection.FindOne(ctx, bson.M{"_id": boardID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return &domain.Board{
		ID:          doc.ID,
		CanvasState: doc.CanvasState,
		UpdatedAt:   time.UnixMicro(doc.UpdatedAtMicros).UTC(),
	}, nil
}

func (r *MongoBoardRepository) Put(ctx context.Context, board *domain.Board) error {
	doc := mongoBoard{
		ID:              board.ID,
		CanvasState:     board.CanvasState,
		UpdatedAt:       board.UpdatedAt,
		UpdatedAtMicros: board.UpdatedAt.UnixMicro(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": board.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save board: %w", err)
	}
	return nil
}

type MongoActionRepository struct {
	collection *mongo.Collection
}

func NewMongoActionRepository(collection *mongo.Collection) *MongoActionRepository {
	return &MongoActionRepository{collection: collection}
}

// EnsureIndexes creates the (board_id, ts) index feed reads rely on.
func (r *MongoActionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "board_id", Value: 1}, {Key: "ts", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create action index: %w", err)
	}
	return nil
}

func (r *MongoActionRepository) Append(ctx context.Context, boardID string, action domain.Action) error {
	doc := mongoAction{
		BoardID:      boardID,
		TS:           action.Timestamp.UnixMicro(),
		ActionRecord: action.Record(),
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

func (r *MongoActionRepository) ListAfter(ctx context.Context, boardID string, after time.Time) ([]domain.Action, error) {
	filter := bson.M{"board_id": boardID, "ts": bson.M{"$gt": after.UnixMicro()}}
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	var docs []mongoAction
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}

	actions := make([]domain.Action, 0, len(docs))
	for _, d := range docs {
		a, err := d.action()
		if err != nil {
			continue
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Watch opens the change stream before reading the backlog so no insert
// falls between the two; overlap is dropped by timestamp. Change streams
// need a replica set.
func (r *MongoActionRepository) Watch(ctx context.Context, boardID string, after time.Time) (<-chan []domain.Action, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument.board_id", Value: boardID},
		}}},
	}
	stream, err := r.collection.Watch(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	backlog, err := r.ListAfter(ctx, boardID, after)
	if err != nil {
		stream.Close(ctx)
		return nil, err
	}

	out := make(chan []domain.Action)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

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
		for stream.Next(ctx) {
			var event struct {
				FullDocument mongoAction `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				continue
			}
			a, err := event.FullDocument.action()
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
