package session

import (
	"context"
	"sync"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/persist"
)

const defaultOutboxSize = 1024

// Outbox writes local actions and snapshots to the backend from a single
// goroutine, in the order they were queued. A stroke's segments reach the
// feed in drawing order, and a snapshot is stamped after every action
// drawn into it.
type Outbox struct {
	coord   *persist.Coordinator
	boardID string
	log     logging.Logger

	queue   chan job
	pending sync.WaitGroup
	done    chan struct{}
	once    sync.Once
}

// job is either an append or, when commit is set, a snapshot write.
type job struct {
	action domain.Action
	commit *commitJob
}

type commitJob struct {
	ctx         context.Context
	canvasState string
	done        func(time.Time, error)
}

func NewOutbox(coord *persist.Coordinator, boardID string, size int, log logging.Logger) *Outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	o := &Outbox{
		coord:   coord,
		boardID: boardID,
		log:     log,
		queue:   make(chan job, size),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Outbox) run() {
	defer close(o.done)
	ctx := context.Background()
	for j := range o.queue {
		if c := j.commit; c != nil {
			ts, err := o.coord.Commit(c.ctx, o.boardID, c.canvasState)
			c.done(ts, err)
		} else {
			// Coordinator.Append already logs the failure.
			o.coord.Append(ctx, o.boardID, j.action)
		}
		o.pending.Done()
	}
}

// Enqueue schedules an append. It never blocks; when the queue is full
// the action is dropped and false is returned.
func (o *Outbox) Enqueue(a domain.Action) bool {
	o.pending.Add(1)
	select {
	case o.queue <- job{action: a}:
		return true
	default:
		o.pending.Done()
		o.log.Warn(context.Background(), "outbox full, dropping action", "board_id", o.boardID, "tool", a.Tool())
		return false
	}
}

// Commit schedules a snapshot write behind every action already queued.
// Unlike appends it is never dropped: it waits for room in the queue
// until ctx is done. done is called exactly once, on the writer goroutine
// or, if ctx ends first, on the caller's.
func (o *Outbox) Commit(ctx context.Context, canvasState string, done func(time.Time, error)) {
	o.pending.Add(1)
	select {
	case o.queue <- job{commit: &commitJob{ctx: ctx, canvasState: canvasState, done: done}}:
	case <-ctx.Done():
		o.pending.Done()
		done(time.Time{}, &persist.Error{Kind: persist.WriteFailure, Op: "save", Err: ctx.Err()})
	}
}

// Flush waits until every queued job has been handed to the backend.
// It must be called from the goroutine that enqueues.
func (o *Outbox) Flush() {
	o.pending.Wait()
}

// Close drains the queue and stops the writer.
func (o *Outbox) Close() {
	o.once.Do(func() {
		close(o.queue)
		<-o.done
	})
}
