package session

import (
	"context"
	"time"

	"collabdraw-server/internal/persist"
)

// Save stores the surface as the board snapshot and moves the replay
// watermark to the write time. The write is queued behind pending appends,
// so every action drawn into the snapshot is stamped before it. Save blocks
// until the backend answers; use SaveAsync from inside Run.
func (s *Session) Save(ctx context.Context) (time.Time, error) {
	uri, err := s.beginSave()
	if err != nil {
		return time.Time{}, err
	}
	type result struct {
		ts  time.Time
		err error
	}
	res := make(chan result, 1)
	s.outbox.Commit(ctx, uri, func(ts time.Time, err error) {
		res <- result{ts, err}
	})
	r := <-res
	return r.ts, s.finishSave(ctx, r.ts, r.err)
}

// SaveAsync encodes the surface now and commits it in the background. The
// outcome is reported as a Notice once Run processes it.
func (s *Session) SaveAsync(ctx context.Context) error {
	uri, err := s.beginSave()
	if err != nil {
		return err
	}
	s.outbox.Commit(ctx, uri, func(ts time.Time, err error) {
		go s.post(func() { s.finishSave(ctx, ts, err) })
	})
	return nil
}

func (s *Session) beginSave() (string, error) {
	select {
	case <-s.closed:
		return "", ErrClosed
	default:
	}
	if s.busy {
		return "", ErrBusy
	}
	uri, err := s.coord.Encode(s.surface)
	if err != nil {
		s.emit(failure("Could not save your board. Please try again."))
		return "", err
	}
	s.busy = true
	return uri, nil
}

func (s *Session) finishSave(ctx context.Context, ts time.Time, err error) error {
	s.busy = false
	if err != nil {
		s.emit(failure("Could not save your board. Please try again."))
		return err
	}
	// Actions up to ts are part of the snapshot now.
	if err := s.replayer.Rebase(ctx, ts); err != nil {
		s.log.Warn(ctx, "failed to resubscribe after save", "error", err)
	}
	s.emit(info("Board Saved!", "Your masterpiece is safe in the cloud."))
	return nil
}

// Open performs the initial load of the board. It reports only failures.
func (s *Session) Open(ctx context.Context) error {
	return s.load(ctx, true)
}

// Load replaces the surface with the saved snapshot, resets history to
// that single state and resubscribes to the feed after its watermark.
func (s *Session) Load(ctx context.Context) error {
	return s.load(ctx, false)
}

func (s *Session) load(ctx context.Context, silent bool) error {
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	restored, err := s.coord.Load(ctx, s.boardID, s.surface.Width(), s.surface.Height())
	return s.finishLoad(ctx, restored, err, silent)
}

func (s *Session) LoadAsync(ctx context.Context) error {
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	w, h := s.surface.Width(), s.surface.Height()
	go func() {
		restored, err := s.coord.Load(ctx, s.boardID, w, h)
		s.post(func() { s.finishLoad(ctx, restored, err, false) })
	}()
	return nil
}

// finishLoad repaints, resets history, then sets the watermark, in that
// order, so no pre-snapshot action is replayed on the restored surface.
func (s *Session) finishLoad(ctx context.Context, r persist.Restored, err error, silent bool) error {
	s.busy = false
	if err != nil {
		s.emit(failure("Could not load the board."))
		return err
	}

	s.g = gesture{}
	s.preview = nil
	if r.Found {
		s.surface.Repaint(r.Surface.Image())
	}
	s.history.Reset(s.surface.Snapshot())

	if err := s.replayer.SetWatermark(ctx, r.Watermark); err != nil {
		s.log.Warn(ctx, "failed to subscribe after load", "error", err)
		s.emit(failure("Live updates are unavailable for this board."))
	}

	switch {
	case silent:
	case r.Found:
		s.emit(info("Board Loaded", "The saved state has been loaded."))
	default:
		s.emit(info("New Board", "This board is empty. Start drawing!"))
	}
	return nil
}
