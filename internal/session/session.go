// Package session owns one participant's view of a board: the raster
// surface, local undo history, the active tool and gesture, and the remote
// replay subscription.
//
// A Session is confined to one goroutine. Either call its methods directly
// from a single goroutine, or start Run and send Events to it; network
// completions and remote batches are then funnelled through the same loop.
package session

import (
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/feed"
	"collabdraw-server/internal/history"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/persist"
	"collabdraw-server/internal/render"

	"github.com/go-playground/validator/v10"
)

var (
	ErrBusy   = errors.New("a save or load is already in progress")
	ErrClosed = errors.New("session is closed")
)

const (
	DefaultColor = "#000000"
	DefaultSize  = 5
	MinSize      = 1
	MaxSize      = 50
)

// Backend is what a session needs from the outside world.
type Backend interface {
	persist.Backend
	feed.Source
}

type Config struct {
	BoardID      string
	ClientID     string
	Width        int
	Height       int
	HistoryLimit int
	OutboxSize   int
	Generator    BackgroundGenerator
	OnNotice     func(Notice)
}

type Session struct {
	boardID  string
	clientID string
	log      logging.Logger
	validate *validator.Validate

	coord    *persist.Coordinator
	replayer *feed.Replayer
	outbox   *Outbox
	notify   func(Notice)

	surface *render.Surface
	preview *render.Surface
	history *history.Stack[*image.RGBA]

	tool  domain.Tool
	color string
	size  float64
	g     gesture

	background domain.Background
	generator  BackgroundGenerator

	busy        bool
	completions chan func()
	closed      chan struct{}
}

func New(backend Backend, cfg Config, log logging.Logger) *Session {
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}
	log = log.With("board_id", cfg.BoardID, "client_id", cfg.ClientID)
	coord := persist.NewCoordinator(backend, log)

	s := &Session{
		boardID:     cfg.BoardID,
		clientID:    cfg.ClientID,
		log:         log,
		validate:    validator.New(),
		coord:       coord,
		replayer:    feed.NewReplayer(backend, cfg.BoardID, cfg.ClientID, log),
		outbox:      NewOutbox(coord, cfg.BoardID, cfg.OutboxSize, log),
		notify:      cfg.OnNotice,
		surface:     render.NewSurface(cfg.Width, cfg.Height),
		history:     history.New[*image.RGBA](cfg.HistoryLimit),
		tool:        domain.ToolPen,
		color:       DefaultColor,
		size:        DefaultSize,
		generator:   cfg.Generator,
		completions: make(chan func(), 8),
		closed:      make(chan struct{}),
	}
	s.history.Reset(s.surface.Snapshot())
	return s
}

func (s *Session) BoardID() string  { return s.boardID }
func (s *Session) ClientID() string { return s.clientID }

func (s *Session) Tool() domain.Tool { return s.tool }
func (s *Session) Color() string     { return s.color }
func (s *Session) Size() float64     { return s.size }

// SetTool switches the active tool. Pending text is confirmed first, as if
// the text field had lost focus.
func (s *Session) SetTool(t domain.Tool) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown tool %q", domain.ErrInvalidAction, t)
	}
	s.ConfirmText()
	s.tool = t
	return nil
}

func (s *Session) SetColor(c string) error {
	if err := s.validate.Var(c, "required,hexcolor"); err != nil {
		return fmt.Errorf("%w: color %q", domain.ErrInvalidAction, c)
	}
	s.color = c
	return nil
}

// SetSize sets the stroke width, clamped to [MinSize, MaxSize].
func (s *Session) SetSize(size float64) {
	s.size = min(max(size, MinSize), MaxSize)
}

// Surface is the committed drawing.
func (s *Session) Surface() *render.Surface { return s.surface }

// View is what should be presented: the surface, or the live shape preview
// while a shape is being dragged.
func (s *Session) View() *render.Surface {
	if s.preview != nil {
		return s.preview
	}
	return s.surface
}

func (s *Session) CanUndo() bool { return s.history.CanUndo() }
func (s *Session) CanRedo() bool { return s.history.CanRedo() }

// Undo restores the previous local snapshot. Remote strokes applied since
// that snapshot are lost from the local view.
func (s *Session) Undo() bool {
	snap, ok := s.history.Undo()
	if ok {
		s.surface.Restore(snap)
	}
	return ok
}

func (s *Session) Redo() bool {
	snap, ok := s.history.Redo()
	if ok {
		s.surface.Restore(snap)
	}
	return ok
}

// Clear wipes the local surface and records it in history. It is not
// broadcast.
func (s *Session) Clear() {
	s.surface.Clear()
	s.pushHistory()
}

func (s *Session) pushHistory() {
	s.history.Push(s.surface.Snapshot())
}

// Resize changes the canvas dimensions keeping existing pixels.
func (s *Session) Resize(width, height int) {
	s.surface.Resize(width, height)
	if s.preview != nil {
		s.refreshPreview()
	}
}

// ApplyRemote replays a batch from the feed onto the surface. History is
// left untouched.
func (s *Session) ApplyRemote(batch []domain.Action) int {
	n := s.replayer.Replay(s.surface, batch)
	if n > 0 && s.preview != nil {
		s.refreshPreview()
	}
	return n
}

func (s *Session) SyncState() feed.State { return s.replayer.State() }

func (s *Session) Watermark() time.Time { return s.replayer.Watermark() }

// LastSeen is the newest feed timestamp this session has processed.
func (s *Session) LastSeen() time.Time { return s.replayer.LastSeen() }

// ExportPNG writes the committed surface as a PNG.
func (s *Session) ExportPNG(w io.Writer) error {
	return render.EncodePNG(w, s.surface)
}

func (s *Session) ExportFilename() string {
	return "collab-draw-" + s.boardID + ".png"
}

func (s *Session) ShareURL(publicURL string) string {
	url := ShareURL(publicURL, s.boardID)
	s.emit(info("Link Copied!", "You can now share the board with others."))
	return url
}

// Flush waits for queued appends to reach the backend.
func (s *Session) Flush() {
	s.outbox.Flush()
}

// Close stops the feed subscription and drains pending appends.
func (s *Session) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	err := s.replayer.Close()
	s.outbox.Close()
	return err
}

func (s *Session) emit(n Notice) {
	if s.notify != nil {
		s.notify(n)
	}
}
