package core

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

// Transform bounds enforced by SetScale / SetRotation.
const (
	MinScale    = 0.3
	MaxScale    = 2.5
	MinRotation = -180.0
	MaxRotation = 180.0

	// DefaultAnchorY places the foreground centre 65% down the surface.
	DefaultAnchorY = 0.65
)

// Point is a coordinate in surface pixel space.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Rect is the on-screen box an element is displayed in, in client space.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Transform positions the foreground image on the surface.
//
// Position is the centre of the scaled foreground in surface pixels.  Scale is
// a multiplier on top of the fit-to-width base scale.  RotationDegrees turns
// the image about Position.
type Transform struct {
	Position        Point   `json:"position"`
	Scale           float64 `json:"scale"`
	RotationDegrees float64 `json:"rotation_degrees"`
}

// DefaultTransform is the post-load transform for a w×h surface.
func DefaultTransform(w, h int) Transform {
	return Transform{
		Position: Point{X: float64(w) / 2, Y: float64(h) * DefaultAnchorY},
		Scale:    1,
	}
}

// ClampScale bounds v to [MinScale, MaxScale].
func ClampScale(v float64) float64 { return clamp(v, MinScale, MaxScale) }

// ClampRotation bounds d to [MinRotation, MaxRotation].
func ClampRotation(d float64) float64 { return clamp(d, MinRotation, MaxRotation) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EffectiveScale is the fit-to-width base scale multiplied by t.Scale.
func (t Transform) EffectiveScale(surfaceW, fgW int) float64 {
	if fgW <= 0 {
		return 0
	}
	return float64(surfaceW) / float64(fgW) * t.Scale
}

// DrawSize returns the on-surface size of a fgW×fgH foreground.
func (t Transform) DrawSize(surfaceW, fgW, fgH int) (float64, float64) {
	s := t.EffectiveScale(surfaceW, fgW)
	return float64(fgW) * s, float64(fgH) * s
}

// Radians converts RotationDegrees.
func (t Transform) Radians() float64 { return t.RotationDegrees * math.Pi / 180 }

// ScalePercent is the user scale as a rounded percentage, for display.
func (t Transform) ScalePercent() int { return int(math.Round(t.Scale * 100)) }

// Matrix maps source pixel coordinates of a foreground with bounds src onto
// the surface: centre on the origin, scale, rotate, then translate to
// Position.
func (t Transform) Matrix(surfaceW int, src image.Rectangle) f64.Aff3 {
	s := t.EffectiveScale(surfaceW, src.Dx())
	sin, cos := math.Sincos(t.Radians())
	cx := float64(src.Min.X) + float64(src.Dx())/2
	cy := float64(src.Min.Y) + float64(src.Dy())/2

	a, b := s*cos, -s*sin
	d, e := s*sin, s*cos
	return f64.Aff3{
		a, b, t.Position.X - (a*cx + b*cy),
		d, e, t.Position.Y - (d*cx + e*cy),
	}
}

// Apply maps a point through m.
func Apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// DragSession lives while a pointer button is held.  AnchorOffset is the
// vector from the pointer to Position at drag start.
type DragSession struct {
	AnchorOffset Point
}

// ClientToSurface converts a client-space pointer coordinate to surface
// pixels using the ratio between surface resolution and displayed size.
// A degenerate displayed rect leaves the offset unscaled.
func ClientToSurface(client Point, displayed Rect, surfaceW, surfaceH int) Point {
	sx, sy := 1.0, 1.0
	if displayed.Width > 0 {
		sx = float64(surfaceW) / displayed.Width
	}
	if displayed.Height > 0 {
		sy = float64(surfaceH) / displayed.Height
	}
	return Point{
		X: (client.X - displayed.Left) * sx,
		Y: (client.Y - displayed.Top) * sy,
	}
}
