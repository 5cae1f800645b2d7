package session

import (
	"context"
	"errors"
	"io"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/render"
)

// BackgroundGenerator turns a prompt into a background image.
type BackgroundGenerator interface {
	GenerateBackground(ctx context.Context, prompt string) (domain.Background, error)
}

var errNoGenerator = errors.New("no background generator configured")

// Background is session-local and never persisted with the board.
func (s *Session) Background() domain.Background { return s.background }

func (s *Session) SetBackground(bg domain.Background) { s.background = bg }

// UploadBackground reads an image file and uses it as the background.
func (s *Session) UploadBackground(r io.Reader) error {
	uri, err := render.DataURIFromImage(r)
	if err != nil {
		s.emit(failure("That file is not an image."))
		return err
	}
	s.background = domain.Background{URL: uri}
	return nil
}

// GenerateBackground asks the generator in the background; the result is
// applied when Run processes it.
func (s *Session) GenerateBackground(ctx context.Context, prompt string) {
	gen := s.generator
	go func() {
		var (
			bg  domain.Background
			err = errNoGenerator
		)
		if gen != nil {
			bg, err = gen.GenerateBackground(ctx, prompt)
		}
		s.post(func() {
			if err != nil {
				s.log.Warn(ctx, "background generation failed", "error", err)
				s.emit(failure("Could not generate a background."))
				return
			}
			s.background = bg
		})
	}()
}
