package render

import (
	"image"
	"math"

	"collabdraw-server/internal/domain"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// TextScale converts an action size into a font size in pixels.
const TextScale = 4

var regular = mustParseFont(goregular.TTF)

func mustParseFont(ttf []byte) *truetype.Font {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic(err)
	}
	return f
}

// Apply draws one action onto s and returns s.
func Apply(s *Surface, shape domain.Shape) *Surface {
	switch v := shape.(type) {
	case domain.Pen:
		stroke(s, v.Segment, func(dc *gg.Context) {
			dc.DrawLine(v.From.X, v.From.Y, v.To.X, v.To.Y)
		})
	case domain.Line:
		stroke(s, v.Segment, func(dc *gg.Context) {
			dc.DrawLine(v.From.X, v.From.Y, v.To.X, v.To.Y)
		})
	case domain.Rectangle:
		stroke(s, v.Segment, func(dc *gg.Context) {
			dc.DrawRectangle(v.From.X, v.From.Y, v.To.X-v.From.X, v.To.Y-v.From.Y)
		})
	case domain.Circle:
		stroke(s, v.Segment, func(dc *gg.Context) {
			dc.DrawCircle(v.From.X, v.From.Y, math.Hypot(v.To.X-v.From.X, v.To.Y-v.From.Y))
		})
	case domain.Eraser:
		erase(s, v)
	case domain.Text:
		text(s, v)
	}
	return s
}

func newContext(s *Surface) *gg.Context {
	dc := gg.NewContextForRGBA(s.img)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	return dc
}

func stroke(s *Surface, seg domain.Segment, path func(*gg.Context)) {
	dc := newContext(s)
	dc.SetHexColor(seg.Color)
	dc.SetLineWidth(seg.Size)
	path(dc)
	dc.Stroke()
}

// erase rasterises the eraser path into a coverage mask and removes that
// coverage from the surface (destination-out).
func erase(s *Surface, e domain.Eraser) {
	mc := gg.NewContext(s.Width(), s.Height())
	mc.SetLineCap(gg.LineCapRound)
	mc.SetLineJoin(gg.LineJoinRound)
	mc.SetRGB(0, 0, 0)
	mc.SetLineWidth(e.Size)
	mc.DrawLine(e.From.X, e.From.Y, e.To.X, e.To.Y)
	mc.Stroke()

	destinationOut(s.img, mc.AsMask())
}

// destinationOut scales every pixel of dst by the inverse of the mask
// coverage at the same position. The surface is premultiplied, so all
// four channels scale together.
func destinationOut(dst *image.RGBA, mask *image.Alpha) {
	r := dst.Bounds().Intersect(mask.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		mi := mask.PixOffset(r.Min.X, y)
		di := dst.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, mi, di = x+1, mi+1, di+4 {
			a := uint32(mask.Pix[mi])
			if a == 0 {
				continue
			}
			keep := 255 - a
			for c := 0; c < 4; c++ {
				dst.Pix[di+c] = uint8((uint32(dst.Pix[di+c])*keep + 127) / 255)
			}
		}
	}
}

func text(s *Surface, t domain.Text) {
	if t.Body == "" {
		return
	}
	face := truetype.NewFace(regular, &truetype.Options{
		Size:    t.Size * TextScale,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	defer face.Close()

	dc := newContext(s)
	dc.SetFontFace(face)
	dc.SetHexColor(t.Color)
	dc.DrawString(t.Body, t.At.X, t.At.Y)
}
