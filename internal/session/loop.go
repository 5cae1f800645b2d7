package session

import (
	"context"
	"time"
)

// Event is a unit of work executed on the session goroutine.
type Event func(*Session)

const resubscribeDelay = time.Second

// Run owns the session until ctx is done or events is closed. Local
// events, remote batches and completions of background saves and loads
// are processed one at a time, so remote batches are always drained in
// feed order between local interactions.
func (s *Session) Run(ctx context.Context, events <-chan Event) error {
	defer s.Close()

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			ev(s)

		case fn := <-s.completions:
			fn()

		case batch, ok := <-s.replayer.Batches():
			if ok {
				s.ApplyRemote(batch)
				continue
			}
			s.log.Warn(ctx, "feed subscription ended, resuming")
			if err := s.replayer.Resume(ctx); err != nil {
				s.log.Warn(ctx, "failed to resume feed", "error", err)
				retry = time.After(resubscribeDelay)
			}

		case <-retry:
			retry = nil
			if err := s.replayer.Resume(ctx); err != nil {
				s.log.Warn(ctx, "failed to resume feed", "error", err)
				retry = time.After(resubscribeDelay)
			}
		}
	}
}

// post hands a completion to Run. It gives up once the session is closed.
func (s *Session) post(fn func()) {
	select {
	case s.completions <- fn:
	case <-s.closed:
	}
}
