// Package history keeps a linear undo/redo stack of local snapshots.
package history

// Stack is a linear history with a cursor. Pushing after an undo discards
// the redo branch. It is not safe for concurrent use.
type Stack[T any] struct {
	items  []T
	cursor int
	limit  int
}

// New returns an empty stack. A positive limit caps the number of retained
// snapshots; the oldest ones are dropped first.
func New[T any](limit int) *Stack[T] {
	return &Stack[T]{cursor: -1, limit: limit}
}

func (s *Stack[T]) Push(item T) {
	s.items = append(s.items[:s.cursor+1], item)
	if s.limit > 0 && len(s.items) > s.limit {
		drop := len(s.items) - s.limit
		clear(s.items[:drop])
		s.items = s.items[drop:]
	}
	s.cursor = len(s.items) - 1
}

// Undo moves the cursor back and returns the snapshot to restore. It
// reports false at the base of the history.
func (s *Stack[T]) Undo() (T, bool) {
	var zero T
	if s.cursor <= 0 {
		return zero, false
	}
	s.cursor--
	return s.items[s.cursor], true
}

// Redo moves the cursor forward and returns the snapshot to restore. It
// reports false at the tail.
func (s *Stack[T]) Redo() (T, bool) {
	var zero T
	if s.cursor >= len(s.items)-1 {
		return zero, false
	}
	s.cursor++
	return s.items[s.cursor], true
}

// Reset discards the whole history and keeps base as its only entry.
func (s *Stack[T]) Reset(base T) {
	clear(s.items)
	s.items = append(s.items[:0], base)
	s.cursor = 0
}

func (s *Stack[T]) Current() (T, bool) {
	var zero T
	if s.cursor < 0 {
		return zero, false
	}
	return s.items[s.cursor], true
}

func (s *Stack[T]) Len() int      { return len(s.items) }
func (s *Stack[T]) Cursor() int   { return s.cursor }
func (s *Stack[T]) CanUndo() bool { return s.cursor > 0 }
func (s *Stack[T]) CanRedo() bool { return s.cursor < len(s.items)-1 }
