// Package render rasterises drawing actions onto an owned RGBA surface.
//
// Every operation is a pure function of the surface pixels and its
// arguments, so replaying the same actions in the same order on equally
// sized blank surfaces always produces identical pixels.
package render

import (
	"bytes"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Matte is the background color a surface is presented on. Cleared and
// erased pixels are transparent and show the matte (or a background image)
// through.
const Matte = "#F5F5F5"

// Surface is a mutable raster exclusively owned by one session. It is not
// safe for concurrent use.
type Surface struct {
	img *image.RGBA
}

func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// FromImage paints src onto a blank surface of the given size, scaling it
// to fill the surface when the dimensions differ.
func FromImage(src image.Image, width, height int) *Surface {
	s := NewSurface(width, height)
	s.paint(src)
	return s
}

func (s *Surface) paint(src image.Image) {
	if src.Bounds().Size() == s.img.Bounds().Size() {
		draw.Draw(s.img, s.img.Bounds(), src, src.Bounds().Min, draw.Src)
		return
	}
	xdraw.BiLinear.Scale(s.img, s.img.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

func (s *Surface) Width() int  { return s.img.Bounds().Dx() }
func (s *Surface) Height() int { return s.img.Bounds().Dy() }

// Image exposes the backing raster for read-only use.
func (s *Surface) Image() *image.RGBA { return s.img }

// Snapshot returns an independent copy of the current pixels.
func (s *Surface) Snapshot() *image.RGBA {
	cp := image.NewRGBA(s.img.Bounds())
	copy(cp.Pix, s.img.Pix)
	return cp
}

// Restore replaces the surface content with snap. A snapshot of a different
// size is anchored at the top-left corner.
func (s *Surface) Restore(snap *image.RGBA) {
	if snap.Bounds() == s.img.Bounds() {
		copy(s.img.Pix, snap.Pix)
		return
	}
	s.Clear()
	draw.Draw(s.img, s.img.Bounds(), snap, image.Point{}, draw.Src)
}

// Repaint clears the surface and draws src scaled to fit.
func (s *Surface) Repaint(src image.Image) {
	s.Clear()
	s.paint(src)
}

func (s *Surface) Clone() *Surface {
	return &Surface{img: s.Snapshot()}
}

func (s *Surface) Clear() {
	clear(s.img.Pix)
}

// Resize changes the surface dimensions, keeping existing pixels anchored
// at the top-left corner.
func (s *Surface) Resize(width, height int) {
	if width == s.Width() && height == s.Height() {
		return
	}
	old := s.img
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(s.img, s.img.Bounds(), old, image.Point{}, draw.Src)
}

// Equal reports whether both surfaces hold exactly the same pixels.
func (s *Surface) Equal(o *Surface) bool {
	return s.img.Bounds() == o.img.Bounds() && bytes.Equal(s.img.Pix, o.img.Pix)
}
