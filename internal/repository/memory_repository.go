package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"collabdraw-server/internal/domain"
)

// MemoryStore keeps boards and action feeds in process memory. It backs
// tests and DB_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	boards   map[string]domain.Board
	actions  map[string][]domain.Action
	watchers map[string]map[*memWatcher]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards:   make(map[string]domain.Board),
		actions:  make(map[string][]domain.Action),
		watchers: make(map[string]map[*memWatcher]struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, boardID string) (*domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.boards[boardID]
	if !ok {
		return nil, domain.ErrBoardNotFound
	}
	return &b, nil
}

func (m *MemoryStore) Put(_ context.Context, board *domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.boards[board.ID] = *board
	return nil
}

func (m *MemoryStore) Append(_ context.Context, boardID string, action domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	feed := m.actions[boardID]
	i := sort.Search(len(feed), func(i int) bool { return feed[i].Timestamp.After(action.Timestamp) })
	feed = append(feed, domain.Action{})
	copy(feed[i+1:], feed[i:])
	feed[i] = action
	m.actions[boardID] = feed

	for w := range m.watchers[boardID] {
		w.push([]domain.Action{action})
	}
	return nil
}

func (m *MemoryStore) ListAfter(_ context.Context, boardID string, after time.Time) ([]domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.after(boardID, after), nil
}

func (m *MemoryStore) after(boardID string, after time.Time) []domain.Action {
	feed := m.actions[boardID]
	i := sort.Search(len(feed), func(i int) bool { return feed[i].Timestamp.After(after) })
	out := make([]domain.Action, len(feed)-i)
	copy(out, feed[i:])
	return out
}

func (m *MemoryStore) Watch(ctx context.Context, boardID string, after time.Time) (<-chan []domain.Action, error) {
	w := &memWatcher{notify: make(chan struct{}, 1)}

	m.mu.Lock()
	if backlog := m.after(boardID, after); len(backlog) > 0 {
		w.push(backlog)
	}
	if m.watchers[boardID] == nil {
		m.watchers[boardID] = make(map[*memWatcher]struct{})
	}
	m.watchers[boardID][w] = struct{}{}
	m.mu.Unlock()

	out := make(chan []domain.Action)
	go func() {
		defer close(out)
		defer m.unwatch(boardID, w)

		last := after
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.notify:
			}
			batch := dedupe(w.take(), &last)
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MemoryStore) unwatch(boardID string, w *memWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.watchers[boardID], w)
	if len(m.watchers[boardID]) == 0 {
		delete(m.watchers, boardID)
	}
}

// memWatcher buffers pending actions so appends never block on a slow
// consumer.
type memWatcher struct {
	mu      sync.Mutex
	pending []domain.Action
	notify  chan struct{}
}

func (w *memWatcher) push(batch []domain.Action) {
	w.mu.Lock()
	w.pending = append(w.pending, batch...)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *memWatcher) take() []domain.Action {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := w.pending
	w.pending = nil
	return batch
}

// MemoryPresence is the in-process presence registry used when Redis is
// not configured.
type MemoryPresence struct {
	mu     sync.Mutex
	boards map[string]map[string]domain.Participant
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{boards: make(map[string]map[string]domain.Participant)}
}

func (p *MemoryPresence) Join(_ context.Context, boardID string, participant domain.Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.boards[boardID] == nil {
		p.boards[boardID] = make(map[string]domain.Participant)
	}
	p.boards[boardID][participant.ClientID] = participant
	return nil
}

func (p *MemoryPresence) Leave(_ context.Context, boardID, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.boards[boardID], clientID)
	if len(p.boards[boardID]) == 0 {
		delete(p.boards, boardID)
	}
	return nil
}

func (p *MemoryPresence) List(_ context.Context, boardID string) ([]domain.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := make([]domain.Participant, 0, len(p.boards[boardID]))
	for _, participant := range p.boards[boardID] {
		list = append(list, participant)
	}
	sortParticipants(list)
	return list, nil
}

func sortParticipants(list []domain.Participant) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ClientID < list[j].ClientID
	})
}
