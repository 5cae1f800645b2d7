package feed

import (
	"context"
	"fmt"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/render"
)

type State int

const (
	Uninitialized State = iota
	Watermarked
	Streaming
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Watermarked:
		return "watermarked"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Replayer is the per-session remote sync engine. It holds at most one
// subscription, scoped to actions after the current watermark, and applies
// remote actions to a surface without recording history. It is driven from
// the session goroutine and is not safe for concurrent use.
type Replayer struct {
	source   Source
	boardID  string
	clientID string
	log      logging.Logger

	state     State
	watermark time.Time
	// lastSeen is the newest timestamp already applied or skipped. It only
	// moves forward within one subscription.
	lastSeen time.Time
	sub      Subscription
}

func NewReplayer(source Source, boardID, clientID string, log logging.Logger) *Replayer {
	return &Replayer{
		source:   source,
		boardID:  boardID,
		clientID: clientID,
		log:      log.With("board_id", boardID, "client_id", clientID),
	}
}

// SetWatermark drops the current subscription and subscribes again for
// actions strictly after t. It is used after a load, when the surface has
// just been repainted from the snapshot taken at t.
func (r *Replayer) SetWatermark(ctx context.Context, t time.Time) error {
	t = domain.FeedTime(t)
	r.closeSub()

	sub, err := r.source.Subscribe(ctx, r.boardID, t)
	if err != nil {
		r.state = Uninitialized
		return fmt.Errorf("failed to subscribe to board feed: %w", err)
	}

	r.sub = sub
	r.watermark = t
	r.lastSeen = t
	r.state = Watermarked
	r.log.Debug(ctx, "feed subscribed", "watermark", t)
	return nil
}

// Rebase moves the watermark to t after the local surface was saved at t.
// Unlike SetWatermark the surface keeps everything already applied, so
// actions up to the newest one seen are not replayed again.
func (r *Replayer) Rebase(ctx context.Context, t time.Time) error {
	seen := r.lastSeen
	if err := r.SetWatermark(ctx, t); err != nil {
		return err
	}
	if seen.After(r.lastSeen) {
		r.lastSeen = seen
	}
	return nil
}

// Resume reopens a subscription that was lost, continuing after the last
// action seen so nothing is applied twice.
func (r *Replayer) Resume(ctx context.Context) error {
	if r.state == Uninitialized {
		return nil
	}
	r.closeSub()

	sub, err := r.source.Subscribe(ctx, r.boardID, r.lastSeen)
	if err != nil {
		return fmt.Errorf("failed to resume board feed: %w", err)
	}
	r.sub = sub
	r.log.Info(ctx, "feed resumed", "after", r.lastSeen)
	return nil
}

// Batches is nil until a watermark has been set, so selecting on it blocks.
func (r *Replayer) Batches() <-chan []domain.Action {
	if r.sub == nil {
		return nil
	}
	return r.sub.Batches()
}

// Replay applies one delivered batch in order and reports how many actions
// were drawn. Own actions and actions at or below what was already seen
// are skipped.
func (r *Replayer) Replay(s *render.Surface, batch []domain.Action) int {
	if r.state == Uninitialized {
		return 0
	}
	r.state = Streaming

	applied := 0
	for _, a := range batch {
		if !a.Timestamp.After(r.lastSeen) {
			continue
		}
		r.lastSeen = a.Timestamp
		if a.ClientID == r.clientID || a.Shape == nil {
			continue
		}
		render.Apply(s, a.Shape)
		applied++
	}
	return applied
}

func (r *Replayer) Watermark() time.Time { return r.watermark }
func (r *Replayer) LastSeen() time.Time  { return r.lastSeen }
func (r *Replayer) State() State         { return r.state }

func (r *Replayer) Close() error {
	r.closeSub()
	r.state = Uninitialized
	return nil
}

func (r *Replayer) closeSub() {
	if r.sub == nil {
		return
	}
	if err := r.sub.Close(); err != nil {
		r.log.Warn(context.Background(), "failed to close feed subscription", "error", err)
	}
	r.sub = nil
}

// Replay applies actions in order onto s, skipping those issued by
// skipClient (pass "" to apply everything). It returns the number drawn.
func Replay(s *render.Surface, actions []domain.Action, skipClient string) int {
	applied := 0
	for _, a := range actions {
		if a.Shape == nil || (skipClient != "" && a.ClientID == skipClient) {
			continue
		}
		render.Apply(s, a.Shape)
		applied++
	}
	return applied
}
