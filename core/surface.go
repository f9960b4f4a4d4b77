package core

import (
	"image"
	"image/draw"
)

// Surface is the output pixel buffer.  Its size is fixed at construction.
type Surface struct {
	img     *image.RGBA
	tainted bool
}

// NewSurface allocates a transparent w×h surface.
func NewSurface(w, h int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (s *Surface) Width() int              { return s.img.Rect.Dx() }
func (s *Surface) Height() int             { return s.img.Rect.Dy() }
func (s *Surface) Bounds() image.Rectangle { return s.img.Rect }

// RGBA exposes the backing buffer for drawing.
func (s *Surface) RGBA() *image.RGBA { return s.img }

// Tainted reports whether cross-origin content without approval was drawn.
func (s *Surface) Tainted() bool { return s.tainted }

// MarkTainted flags the surface as non-exportable.  The flag is sticky.
func (s *Surface) MarkTainted() { s.tainted = true }

// Clear resets every pixel to transparent.
func (s *Surface) Clear() {
	draw.Draw(s.img, s.img.Rect, image.Transparent, image.Point{}, draw.Src)
}

// Snapshot returns a deep copy of the pixels.
func (s *Surface) Snapshot() *image.RGBA {
	cp := image.NewRGBA(s.img.Rect)
	copy(cp.Pix, s.img.Pix)
	return cp
}
