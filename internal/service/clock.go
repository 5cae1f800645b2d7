package service

import (
	"sync"
	"time"

	"collabdraw-server/internal/domain"
)

// FeedClock hands out per-board timestamps that are strictly increasing at
// feed precision, even when the wall clock stalls or steps back.
type FeedClock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewFeedClock(now func() time.Time) *FeedClock {
	if now == nil {
		now = time.Now
	}
	return &FeedClock{last: make(map[string]time.Time), now: now}
}

func (c *FeedClock) Next(boardID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := domain.FeedTime(c.now())
	if last, ok := c.last[boardID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	c.last[boardID] = ts
	return ts
}
