package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/render"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	after  time.Time
	ch     chan []domain.Action
	closed bool
}

func (s *fakeSub) Batches() <-chan []domain.Action { return s.ch }

func (s *fakeSub) Close() error {
	s.closed = true
	return nil
}

type fakeSource struct {
	subs []*fakeSub
	err  error
}

func (f *fakeSource) Subscribe(_ context.Context, _ string, after time.Time) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSub{after: after, ch: make(chan []domain.Action, 4)}
	f.subs = append(f.subs, s)
	return s, nil
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func pen(x1, y1, x2, y2 float64, client string, ts time.Time) domain.Action {
	shape, _ := domain.NewShape(domain.ToolPen, domain.Point{X: x1, Y: y1}, domain.Point{X: x2, Y: y2}, "#ff0000", 5)
	return domain.Action{Shape: shape, ClientID: client, Timestamp: ts}
}

func TestReplayerStartsUninitialized(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "me", logging.Nop())

	assert.Equal(t, Uninitialized, r.State())
	assert.Nil(t, r.Batches())
	assert.Zero(t, r.Replay(render.NewSurface(32, 32), []domain.Action{pen(0, 0, 10, 10, "other", t0)}))
}

func TestSetWatermarkSubscribesAfterTimestamp(t *testing.T) {
	src := &fakeSource{}
	r := NewReplayer(src, "b1", "me", logging.Nop())

	require.NoError(t, r.SetWatermark(context.Background(), t0))

	require.Len(t, src.subs, 1)
	assert.True(t, src.subs[0].after.Equal(t0))
	assert.Equal(t, Watermarked, r.State())
	assert.NotNil(t, r.Batches())
}

func TestSetWatermarkReplacesSubscription(t *testing.T) {
	src := &fakeSource{}
	r := NewReplayer(src, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))

	later := t0.Add(time.Minute)
	require.NoError(t, r.SetWatermark(context.Background(), later))

	require.Len(t, src.subs, 2)
	assert.True(t, src.subs[0].closed)
	assert.False(t, src.subs[1].closed)
	assert.True(t, r.Watermark().Equal(later))
}

func TestSetWatermarkFailure(t *testing.T) {
	r := NewReplayer(&fakeSource{err: errors.New("unreachable")}, "b1", "me", logging.Nop())

	err := r.SetWatermark(context.Background(), t0)
	assert.Error(t, err)
	assert.Equal(t, Uninitialized, r.State())
}

func TestReplaySkipsOwnActions(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))
	s := render.NewSurface(64, 64)

	n := r.Replay(s, []domain.Action{pen(10, 10, 20, 20, "me", t0.Add(time.Second))})

	assert.Zero(t, n)
	assert.True(t, s.Equal(render.NewSurface(64, 64)), "own echo must not be drawn")
	assert.Equal(t, Streaming, r.State())
}

func TestReplayMatchesLocalRendering(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "client-b", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))

	action := pen(10, 10, 20, 20, "client-a", t0)
	onA := render.Apply(render.NewSurface(64, 64), action.Shape)
	onB := render.NewSurface(64, 64)

	assert.Equal(t, 1, r.Replay(onB, []domain.Action{action}))
	assert.True(t, onA.Equal(onB))
}

func TestReplayIsStrictlyAfterWatermark(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), t0))
	s := render.NewSurface(64, 64)

	n := r.Replay(s, []domain.Action{
		pen(0, 0, 5, 5, "other", t0.Add(-time.Second)),
		pen(0, 0, 5, 5, "other", t0),
		pen(10, 10, 20, 20, "other", t0.Add(time.Microsecond)),
	})

	assert.Equal(t, 1, n)
}

func TestReplayDropsDuplicates(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))
	s := render.NewSurface(64, 64)
	a := pen(10, 10, 20, 20, "other", t0)

	assert.Equal(t, 1, r.Replay(s, []domain.Action{a}))
	assert.Equal(t, 0, r.Replay(s, []domain.Action{a}))
	assert.True(t, r.LastSeen().Equal(t0))
	assert.True(t, r.Watermark().Equal(domain.Epoch), "replay does not move the snapshot watermark")
}

func TestResumeContinuesAfterLastSeen(t *testing.T) {
	src := &fakeSource{}
	r := NewReplayer(src, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))
	r.Replay(render.NewSurface(8, 8), []domain.Action{pen(0, 0, 1, 1, "me", t0)})

	require.NoError(t, r.Resume(context.Background()))

	require.Len(t, src.subs, 2)
	assert.True(t, src.subs[0].closed)
	assert.True(t, src.subs[1].after.Equal(t0))
}

func TestCloseUnsubscribes(t *testing.T) {
	src := &fakeSource{}
	r := NewReplayer(src, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))

	require.NoError(t, r.Close())

	assert.True(t, src.subs[0].closed)
	assert.Nil(t, r.Batches())
	assert.Equal(t, "uninitialized", r.State().String())
}

func TestReplayFunction(t *testing.T) {
	actions := []domain.Action{
		pen(0, 0, 10, 10, "a", t0),
		pen(10, 10, 20, 20, "b", t0.Add(time.Second)),
	}

	assert.Equal(t, 2, Replay(render.NewSurface(32, 32), actions, ""))
	assert.Equal(t, 1, Replay(render.NewSurface(32, 32), actions, "a"))
}

func TestChanSubscriptionCloseIsIdempotent(t *testing.T) {
	calls := 0
	ch := make(chan []domain.Action)
	sub := NewSubscription(ch, func() { calls++ })

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, calls)
}

func TestRebaseAfterSaveKeepsAppliedActions(t *testing.T) {
	src := &fakeSource{}
	r := NewReplayer(src, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))
	s := render.NewSurface(64, 64)

	saved := t0
	remote := pen(10, 10, 40, 40, "other", t0.Add(time.Second))
	require.Equal(t, 1, r.Replay(s, []domain.Action{remote}))
	drawn := s.Clone()

	require.NoError(t, r.Rebase(context.Background(), saved))

	require.Len(t, src.subs, 2)
	assert.True(t, src.subs[1].after.Equal(saved))
	assert.True(t, r.Watermark().Equal(saved))
	assert.True(t, r.LastSeen().Equal(remote.Timestamp))

	assert.Zero(t, r.Replay(s, []domain.Action{remote}), "action already on the surface is redelivered after the save")
	assert.True(t, s.Equal(drawn))

	next := pen(0, 50, 60, 50, "other", t0.Add(2*time.Second))
	assert.Equal(t, 1, r.Replay(s, []domain.Action{next}))
}

func TestRebaseMovesForwardFromOlderLastSeen(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))

	saved := t0.Add(time.Minute)
	require.NoError(t, r.Rebase(context.Background(), saved))

	assert.True(t, r.LastSeen().Equal(saved))
}

func TestSetWatermarkResetsLastSeenForLoad(t *testing.T) {
	r := NewReplayer(&fakeSource{}, "b1", "me", logging.Nop())
	require.NoError(t, r.SetWatermark(context.Background(), domain.Epoch))
	r.Replay(render.NewSurface(16, 16), []domain.Action{pen(0, 0, 5, 5, "other", t0.Add(time.Second))})

	require.NoError(t, r.SetWatermark(context.Background(), t0))

	assert.True(t, r.LastSeen().Equal(t0))
}
