// Package feed replays remote drawing actions from a board's event feed onto
// a local surface.
package feed

import (
	"context"
	"sync"
	"time"

	"collabdraw-server/internal/domain"
)

// Source opens ordered subscriptions to a board's event feed. Batches carry
// actions with a timestamp strictly greater than after, in ascending order.
type Source interface {
	Subscribe(ctx context.Context, boardID string, after time.Time) (Subscription, error)
}

// Subscription delivers batches of newly added actions until it is closed
// or its source goes away, at which point the channel is closed.
type Subscription interface {
	Batches() <-chan []domain.Action
	Close() error
}

type chanSubscription struct {
	ch     <-chan []domain.Action
	cancel context.CancelFunc
	once   sync.Once
}

// NewSubscription wraps a producer channel. cancel must stop the producer,
// which then closes ch.
func NewSubscription(ch <-chan []domain.Action, cancel context.CancelFunc) Subscription {
	return &chanSubscription{ch: ch, cancel: cancel}
}

func (s *chanSubscription) Batches() <-chan []domain.Action {
	return s.ch
}

func (s *chanSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}
