package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
)

const DefaultPlaceholderURL = "https://placehold.co"

// BackgroundService stands in for an image model: it waits a fixed delay
// and answers with a placeholder image captioned with the prompt.
type BackgroundService struct {
	baseURL string
	delay   time.Duration
	log     logging.Logger
}

func NewBackgroundService(baseURL string, delay time.Duration, log logging.Logger) *BackgroundService {
	if baseURL == "" {
		baseURL = DefaultPlaceholderURL
	}
	return &BackgroundService{
		baseURL: strings.TrimRight(baseURL, "/"),
		delay:   delay,
		log:     log,
	}
}

func (s *BackgroundService) GenerateBackground(ctx context.Context, prompt string) (domain.Background, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Background{}, &ValidationError{Field: "prompt", Err: fmt.Errorf("must not be empty")}
	}

	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.Background{}, ctx.Err()
		case <-t.C:
		}
	}

	bg := domain.Background{
		URL:  s.baseURL + "/1920x1080.png?text=" + url.QueryEscape(prompt),
		Hint: Hint(prompt),
	}
	s.log.Info(ctx, "background generated", "hint", bg.Hint)
	return bg, nil
}

// Hint is the short caption attached to a generated background: the
// first two words of the prompt.
func Hint(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > 2 {
		words = words[:2]
	}
	return strings.Join(words, " ")
}
