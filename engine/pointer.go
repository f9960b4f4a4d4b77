package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/Skryldev/image-compositor/core"
)

// PointerType names a pointer event.
type PointerType string

const (
	PointerDown  PointerType = "down"
	PointerMove  PointerType = "move"
	PointerUp    PointerType = "up"
	PointerLeave PointerType = "leave"
)

// PointerEvent is a pointer event in client coordinates together with the
// box the surface is displayed in.
type PointerEvent struct {
	Type    PointerType `json:"type"`
	ClientX float64     `json:"clientX"`
	ClientY float64     `json:"clientY"`
	Rect    core.Rect   `json:"rect"`
}

// HandlePointer converts ev to surface coordinates and dispatches it.
func (e *Engine) HandlePointer(ev PointerEvent) error {
	switch ev.Type {
	case PointerUp, PointerLeave:
		e.EndDrag()
		return nil
	case PointerDown, PointerMove:
	default:
		return fmt.Errorf("unknown pointer event %q", ev.Type)
	}

	w, h := e.SurfaceSize()
	p := core.ClientToSurface(core.Point{X: ev.ClientX, Y: ev.ClientY}, ev.Rect, w, h)
	if ev.Type == PointerDown {
		e.BeginDrag(p)
		return nil
	}
	return e.ContinueDrag(p)
}

// BeginDrag starts a drag at surface point p.  It does nothing and returns
// false unless images are loaded.
func (e *Engine) BeginDrag(p core.Point) bool {
	if !finite(p) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return false
	}
	e.drag = &core.DragSession{AnchorOffset: p.Sub(e.transform.Position)}
	e.state = StateDragging
	return true
}

// ContinueDrag moves the foreground so the grabbed point follows p.  The
// position is not clamped; the image may leave the surface.
func (e *Engine) ContinueDrag(p core.Point) error {
	if !finite(p) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drag == nil {
		return nil
	}
	e.transform.Position = p.Sub(e.drag.AnchorOffset)
	return e.renderLocked(context.Background())
}

// EndDrag ends the drag session, if any.  It is idempotent.
func (e *Engine) EndDrag() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drag = nil
	if e.state == StateDragging {
		e.state = StateReady
	}
}

// Dragging reports whether a drag session is open.
func (e *Engine) Dragging() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drag != nil
}

func finite(p core.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
