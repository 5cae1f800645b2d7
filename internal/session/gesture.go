package session

import (
	"context"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/render"
)

type GestureState int

const (
	Idle GestureState = iota
	Dragging
	AwaitingText
)

type gesture struct {
	state GestureState
	start domain.Point
	last  domain.Point
	text  string
}

func (s *Session) Gesture() GestureState { return s.g.state }

// PointerDown starts a drag for stroke and shape tools. With the text tool
// it places the insertion point, or confirms pending text if a field is
// already open.
func (s *Session) PointerDown(p domain.Point) {
	switch {
	case s.g.state == AwaitingText:
		s.ConfirmText()
	case s.tool == domain.ToolText:
		s.g = gesture{state: AwaitingText, start: p, last: p}
	default:
		s.g = gesture{state: Dragging, start: p, last: p}
	}
}

// PointerMove extends a drag. Pen and eraser commit one segment per move;
// shape tools only refresh the preview.
func (s *Session) PointerMove(p domain.Point) {
	if s.g.state != Dragging || p == s.g.last {
		return
	}
	if s.tool.Continuous() {
		s.commitSegment(s.g.last, p)
		s.g.last = p
		return
	}
	s.g.last = p
	s.refreshPreview()
}

// PointerUp completes a drag: the final segment or the whole shape is
// committed and one history snapshot is recorded.
func (s *Session) PointerUp(p domain.Point) {
	if s.g.state != Dragging {
		return
	}
	if s.tool.Continuous() {
		if p != s.g.last {
			s.commitSegment(s.g.last, p)
		}
	} else {
		s.commitSegment(s.g.start, p)
		s.preview = nil
	}
	s.g = gesture{}
	s.pushHistory()
}

// PointerLeave ends a drag exactly like PointerUp.
func (s *Session) PointerLeave(p domain.Point) {
	s.PointerUp(p)
}

// SetText replaces the content of the open text field.
func (s *Session) SetText(body string) {
	if s.g.state == AwaitingText {
		s.g.text = body
	}
}

func (s *Session) PendingText() string { return s.g.text }

// ConfirmText commits the open text field. Empty text is discarded without
// emitting anything.
func (s *Session) ConfirmText() {
	if s.g.state != AwaitingText {
		return
	}
	at, body := s.g.start, s.g.text
	s.g = gesture{}

	shape, err := domain.NewText(at, s.color, s.size, body)
	if err != nil {
		return
	}
	s.commit(shape)
	s.pushHistory()
}

// CancelText closes the text field without committing.
func (s *Session) CancelText() {
	if s.g.state == AwaitingText {
		s.g = gesture{}
	}
}

func (s *Session) commitSegment(from, to domain.Point) {
	shape, err := domain.NewShape(s.tool, from, to, s.color, s.size)
	if err != nil {
		s.log.Error(context.Background(), "failed to build action", "tool", s.tool, "error", err)
		return
	}
	s.commit(shape)
}

// commit draws the shape locally at once and queues it for the feed. The
// echo that comes back carries our client id and is skipped by the
// replayer.
func (s *Session) commit(shape domain.Shape) {
	render.Apply(s.surface, shape)
	select {
	case <-s.closed:
		return
	default:
	}
	s.outbox.Enqueue(domain.Action{Shape: shape, ClientID: s.clientID})
}

func (s *Session) refreshPreview() {
	shape, err := domain.NewShape(s.tool, s.g.start, s.g.last, s.color, s.size)
	if err != nil {
		s.preview = nil
		return
	}
	s.preview = render.Apply(s.surface.Clone(), shape)
}
