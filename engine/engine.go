// Package engine holds the interactive compositing state: which images are
// loaded, how the foreground is placed, and the rendered surface.
//
// Every mutation is serialised behind one mutex.  The only blocking call,
// the image load, runs without the lock; a generation counter makes sure a
// superseded load can never overwrite the state of a newer one.
package engine

import (
	"context"
	"image"
	"math"
	"sync"

	"github.com/Skryldev/image-compositor/adapters/encoder"
	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/loader"
	"github.com/Skryldev/image-compositor/pipeline"
)

// State is the engine lifecycle state.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateDragging
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDragging:
		return "dragging"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ImageLoader is the part of *loader.Loader the engine depends on.
type ImageLoader interface {
	Load(ctx context.Context, ref core.ImageReference, overlayPath string, onOverlay func(*core.DecodedImage)) (*loader.Result, error)
}

// Options configures an Engine.  Zero values select the defaults.
type Options struct {
	OverlayPath    string
	ExportFilename string
	PreviewQuality int

	Pipeline       *pipeline.Pipeline
	Encoder        core.Encoder // PNG export
	PreviewEncoder core.Encoder // JPEG preview
	Logger         core.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	loader ImageLoader
	opts   Options
	log    core.Logger

	mu        sync.Mutex
	gen       uint64
	state     State
	ref       core.ImageReference
	fg, ov    *core.DecodedImage
	loaded    bool
	transform core.Transform
	drag      *core.DragSession
	front     *core.Surface // last completed render
	back      *core.Surface // render target, swapped in on success
	err       error
}

// New returns an Engine in StateEmpty.
func New(l ImageLoader, opts Options) *Engine {
	if opts.OverlayPath == "" {
		opts.OverlayPath = "/wolverine.png"
	}
	if opts.ExportFilename == "" {
		opts.ExportFilename = "wolverine-mlb-meme.png"
	}
	if opts.PreviewQuality <= 0 {
		opts.PreviewQuality = 70
	}
	if opts.Pipeline == nil {
		opts.Pipeline = pipeline.Default(nil)
	}
	if opts.Encoder == nil {
		opts.Encoder = encoder.NewPNG()
	}
	if opts.PreviewEncoder == nil {
		opts.PreviewEncoder = encoder.NewJPEG(opts.PreviewQuality)
	}
	log := opts.Logger
	if log == nil {
		log = core.NopLogger{}
	}
	return &Engine{loader: l, opts: opts, log: log, transform: core.Transform{Scale: 1}}
}

// ── Loading ───────────────────────────────────────────────────────────────────

// Load starts a new load cycle for ref and blocks until it completes.
//
// If another Load starts before this one finishes, this result is discarded
// and Load returns nil.  Load failures leave the engine in StateFailed and
// are returned as *apperrors.LoadError.  An empty reference is rejected
// without touching the current state.
func (e *Engine) Load(ctx context.Context, ref core.ImageReference) error {
	if ref.IsZero() {
		return apperrors.NewLoadError(apperrors.KindForegroundNetworkOrDecode, "",
			apperrors.New(apperrors.CategoryLoad, "engine.load", apperrors.ErrInvalidReference))
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.state = StateLoading
	e.loaded = false
	e.drag = nil
	e.ref = ref
	e.fg = nil
	e.err = nil
	e.mu.Unlock()

	res, err := e.loader.Load(ctx, ref, e.opts.OverlayPath, func(ov *core.DecodedImage) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.gen {
			return
		}
		e.ov = ov
		e.allocSurfaces(ov.Width(), ov.Height())
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen {
		e.log.Debug("discarding stale load", "generation", gen, "current", e.gen, "title", ref.Title)
		return nil
	}

	if err != nil {
		e.state = StateFailed
		e.err = err
		if apperrors.KindOf(err) == apperrors.KindOverlayUnavailable {
			e.ov = nil
			e.front, e.back = nil, nil
		} else if e.front != nil {
			// Blank, never partly drawn.
			e.allocSurfaces(e.front.Width(), e.front.Height())
		}
		return err
	}

	e.fg, e.ov = res.Foreground, res.Overlay
	if e.front == nil || e.front.Width() != e.ov.Width() || e.front.Height() != e.ov.Height() {
		e.allocSurfaces(e.ov.Width(), e.ov.Height())
	}
	e.loaded = true
	e.state = StateReady
	e.transform = core.DefaultTransform(e.front.Width(), e.front.Height())

	if err := e.renderLocked(ctx); err != nil {
		e.state = StateFailed
		e.loaded = false
		e.err = err
		return err
	}
	e.log.Info("images loaded",
		"title", ref.Title,
		"surface", [2]int{e.front.Width(), e.front.Height()},
		"foreground", [2]int{e.fg.Width(), e.fg.Height()},
		"tainted", e.fg.Tainted,
	)
	return nil
}

// allocSurfaces installs fresh transparent buffers, which also clears taint.
func (e *Engine) allocSurfaces(w, h int) {
	e.front = core.NewSurface(w, h)
	e.back = core.NewSurface(w, h)
}

// ── Rendering ─────────────────────────────────────────────────────────────────

// Render redraws the surface from the current state.  It is a no-op until
// both images are loaded and is idempotent.
func (e *Engine) Render(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderLocked(ctx)
}

func (e *Engine) renderLocked(ctx context.Context) error {
	if !e.loaded || e.front == nil {
		return nil
	}
	scene := core.Scene{Foreground: e.fg, Overlay: e.ov, Transform: e.transform}
	if _, err := e.opts.Pipeline.Run(ctx, e.back, scene); err != nil {
		return apperrors.Wrap(apperrors.CategoryRender, "engine.render", err)
	}
	e.front, e.back = e.back, e.front
	return nil
}

// ── Controls ──────────────────────────────────────────────────────────────────

// SetScale clamps v to [MinScale, MaxScale] and re-renders.  NaN is ignored.
func (e *Engine) SetScale(v float64) error {
	if math.IsNaN(v) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transform.Scale = core.ClampScale(v)
	return e.renderLocked(context.Background())
}

// SetRotation clamps degrees to [MinRotation, MaxRotation] and re-renders.
// NaN is ignored.
func (e *Engine) SetRotation(degrees float64) error {
	if math.IsNaN(degrees) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transform.RotationDegrees = core.ClampRotation(degrees)
	return e.renderLocked(context.Background())
}

// Reset restores the default transform and re-renders.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.front == nil {
		e.transform = core.Transform{Scale: 1}
		return nil
	}
	e.transform = core.DefaultTransform(e.front.Width(), e.front.Height())
	return e.renderLocked(context.Background())
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// Controls is what the rotation and scale inputs display.
type Controls struct {
	RotationDegrees float64 `json:"rotation_degrees"`
	ScalePercent    int     `json:"scale_percent"`
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Transform() core.Transform {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transform
}

func (e *Engine) Reference() core.ImageReference {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ref
}

func (e *Engine) ImagesLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Err returns the error of the last failed load, if the engine is failed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// SurfaceSize returns (0, 0) while no surface exists.
func (e *Engine) SurfaceSize() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.front == nil {
		return 0, 0
	}
	return e.front.Width(), e.front.Height()
}

func (e *Engine) Controls() Controls {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Controls{RotationDegrees: e.transform.RotationDegrees, ScalePercent: e.transform.ScalePercent()}
}

// Snapshot copies the last rendered surface, or returns nil.
func (e *Engine) Snapshot() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.front == nil {
		return nil
	}
	return e.front.Snapshot()
}

// Tainted reports whether the current surface cannot be exported.
func (e *Engine) Tainted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.front != nil && e.front.Tainted()
}

// Status is a consistent view of the engine for display.
type Status struct {
	State        State               `json:"state"`
	ImagesLoaded bool                `json:"images_loaded"`
	Reference    core.ImageReference `json:"reference"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	Transform    core.Transform      `json:"transform"`
	Controls     Controls            `json:"controls"`
	Tainted      bool                `json:"tainted"`
	Dragging     bool                `json:"dragging"`
	Err          error               `json:"-"`
}

// Status reads every field under a single lock.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		State:        e.state,
		ImagesLoaded: e.loaded,
		Reference:    e.ref,
		Transform:    e.transform,
		Controls:     Controls{RotationDegrees: e.transform.RotationDegrees, ScalePercent: e.transform.ScalePercent()},
		Dragging:     e.drag != nil,
		Err:          e.err,
	}
	if e.front != nil {
		s.Width, s.Height = e.front.Width(), e.front.Height()
		s.Tainted = e.front.Tainted()
	}
	return s
}
