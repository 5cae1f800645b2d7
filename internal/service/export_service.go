package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/feed"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/render"
	"collabdraw-server/internal/repository"

	"github.com/jung-kurt/gofpdf"
)

// ExportService renders a board server-side the way a freshly joining
// client would see it: the saved snapshot plus every action after its
// watermark.
type ExportService struct {
	boards  repository.BoardRepository
	actions repository.ActionRepository
	width   int
	height  int
	log     logging.Logger
}

func NewExportService(
	boards repository.BoardRepository,
	actions repository.ActionRepository,
	width, height int,
	log logging.Logger,
) *ExportService {
	return &ExportService{
		boards:  boards,
		actions: actions,
		width:   width,
		height:  height,
		log:     log,
	}
}

// Render rebuilds the current board image. A board without a snapshot
// starts blank at the configured canvas size.
func (s *ExportService) Render(ctx context.Context, boardID string) (*render.Surface, error) {
	surface := render.NewSurface(s.width, s.height)
	watermark := domain.Epoch

	board, err := s.boards.Get(ctx, boardID)
	switch {
	case errors.Is(err, domain.ErrBoardNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load board: %w", err)
	default:
		img, err := render.DecodeDataURI(board.CanvasState)
		if err != nil {
			return nil, fmt.Errorf("failed to decode board snapshot: %w", err)
		}
		b := img.Bounds()
		surface = render.FromImage(img, b.Dx(), b.Dy())
		watermark = domain.FeedTime(board.UpdatedAt)
	}

	actions, err := s.actions.ListAfter(ctx, boardID, watermark)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	n := feed.Replay(surface, actions, "")
	s.log.Debug(ctx, "board rendered", "board_id", boardID, "replayed", n)
	return surface, nil
}

func (s *ExportService) ExportPNG(ctx context.Context, boardID string, w io.Writer) error {
	surface, err := s.Render(ctx, boardID)
	if err != nil {
		return err
	}
	return render.EncodePNG(w, surface)
}

// ExportPDF writes a single page sized to the board, with the image laid
// over the matte color.
func (s *ExportService) ExportPDF(ctx context.Context, boardID string, w io.Writer) error {
	surface, err := s.Render(ctx, boardID)
	if err != nil {
		return err
	}

	var png bytes.Buffer
	if err := render.EncodePNG(&png, surface); err != nil {
		return err
	}

	width, height := float64(surface.Width()), float64(surface.Height())
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("collab-draw "+boardID, true)
	pdf.AddPage()

	r, g, b := hexRGB(render.Matte)
	pdf.SetFillColor(r, g, b)
	pdf.Rect(0, 0, width, height, "F")

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("board", opts, &png)
	pdf.ImageOptions("board", 0, 0, width, height, false, opts, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

func hexRGB(hex string) (int, int, int) {
	if len(hex) != 7 || hex[0] != '#' {
		return 255, 255, 255
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 255, 255, 255
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
