package pipeline

import (
	"context"
	"fmt"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
)

// Default is the compositing order: clear, foreground, overlay on top.
func Default(interp xdraw.Interpolator) *Pipeline {
	return New().Use(
		&ClearStep{},
		&ForegroundStep{Interpolator: interp},
		&OverlayStep{Interpolator: interp},
	)
}

// Interpolator maps a configuration name to an x/image interpolator.
func Interpolator(name string) (xdraw.Interpolator, error) {
	switch name {
	case "nearest":
		return xdraw.NearestNeighbor, nil
	case "approx-bilinear":
		return xdraw.ApproxBiLinear, nil
	case "", "bilinear":
		return xdraw.BiLinear, nil
	case "catmull-rom":
		return xdraw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown interpolation %q", name)
}

// ── Clear ─────────────────────────────────────────────────────────────────────

// ClearStep resets every surface pixel to transparent.
type ClearStep struct{}

func (s *ClearStep) Name() string { return "render.clear" }

func (s *ClearStep) Execute(ctx context.Context, dst *core.Surface, _ core.Scene) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryRender, s.Name(), err)
	}
	dst.Clear()
	return nil
}

// ── Foreground ────────────────────────────────────────────────────────────────

// ForegroundStep draws the foreground scaled to the surface width times the
// user scale, rotated about and centred on the transform position.
type ForegroundStep struct {
	// Interpolator controls quality vs speed.  Defaults to draw.BiLinear.
	Interpolator xdraw.Interpolator
}

func (s *ForegroundStep) Name() string { return "render.foreground" }

func (s *ForegroundStep) Execute(ctx context.Context, dst *core.Surface, scene core.Scene) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryRender, s.Name(), err)
	}
	fg := scene.Foreground
	if fg == nil || fg.Image == nil {
		return nil
	}
	src := fg.Image
	srcB := src.Bounds()
	if srcB.Empty() {
		return apperrors.New(apperrors.CategoryRender, s.Name(), apperrors.ErrInvalidDimensions)
	}

	interp := s.Interpolator
	if interp == nil {
		interp = xdraw.BiLinear
	}
	m := scene.Transform.Matrix(dst.Width(), srcB)
	interp.Transform(dst.RGBA(), m, src, srcB, xdraw.Over, nil)

	if fg.Tainted {
		dst.MarkTainted()
	}
	return nil
}

// ── Overlay ───────────────────────────────────────────────────────────────────

// OverlayStep draws the overlay over the full surface.
type OverlayStep struct {
	Interpolator xdraw.Interpolator
}

func (s *OverlayStep) Name() string { return "render.overlay" }

func (s *OverlayStep) Execute(ctx context.Context, dst *core.Surface, scene core.Scene) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryRender, s.Name(), err)
	}
	ov := scene.Overlay
	if ov == nil || ov.Image == nil {
		return nil
	}
	src := ov.Image
	srcB := src.Bounds()

	if srcB.Dx() == dst.Width() && srcB.Dy() == dst.Height() {
		draw.Draw(dst.RGBA(), dst.Bounds(), src, srcB.Min, draw.Over)
	} else {
		interp := s.Interpolator
		if interp == nil {
			interp = xdraw.BiLinear
		}
		interp.Scale(dst.RGBA(), dst.Bounds(), src, srcB, xdraw.Over, nil)
	}

	if ov.Tainted {
		dst.MarkTainted()
	}
	return nil
}

var (
	_ core.Step = (*ClearStep)(nil)
	_ core.Step = (*ForegroundStep)(nil)
	_ core.Step = (*OverlayStep)(nil)
)
