// Package loader turns image references into decoded bitmaps.
//
// A load decodes the overlay first (once per path) and then the foreground
// in up to two passes: an anonymous cross-origin request, and on any failure
// a plain request whose result is marked tainted unless access was granted.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/hooks"
	"github.com/Skryldev/image-compositor/utils"
)

// Stage names reported to hooks.
const (
	StageOverlay            = "load.overlay"
	StageForegroundCORS     = "load.foreground.cors"
	StageForegroundFallback = "load.foreground.fallback"
)

const defaultTimeout = 10 * time.Second

// Options configures a Loader.
type Options struct {
	Fetcher  core.Fetcher
	Registry core.Registry
	Logger   core.Logger
	Hooks    []core.Hook
	Metrics  core.MetricsCollector

	ForegroundTimeout time.Duration // per pass; default 10s
	OverlayTimeout    time.Duration // default 10s
}

// Result holds both decoded images of a successful load.
type Result struct {
	Foreground *core.DecodedImage
	Overlay    *core.DecodedImage
}

// Loader is safe for concurrent use.  Overlays are cached for its lifetime.
type Loader struct {
	opts Options
	log  core.Logger

	mu       sync.RWMutex
	overlays map[string]*core.DecodedImage
	group    singleflight.Group
}

// New returns a Loader.  Fetcher and Registry are required.
func New(opts Options) (*Loader, error) {
	if opts.Fetcher == nil || opts.Registry == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "loader.new", errors.New("fetcher and registry are required"))
	}
	if opts.ForegroundTimeout <= 0 {
		opts.ForegroundTimeout = defaultTimeout
	}
	if opts.OverlayTimeout <= 0 {
		opts.OverlayTimeout = defaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = core.NopLogger{}
	}
	return &Loader{opts: opts, log: log, overlays: make(map[string]*core.DecodedImage)}, nil
}

// Load decodes the overlay at overlayPath and the foreground named by ref.
//
// onOverlay, when non-nil, is called as soon as the overlay is available and
// before the foreground is attempted.  Failures are reported as
// *apperrors.LoadError; cancellation of ctx is returned as ctx.Err().
func (l *Loader) Load(ctx context.Context, ref core.ImageReference, overlayPath string, onOverlay func(*core.DecodedImage)) (*Result, error) {
	if ref.IsZero() {
		return nil, apperrors.NewLoadError(apperrors.KindForegroundNetworkOrDecode, "",
			apperrors.New(apperrors.CategoryLoad, "loader.load", apperrors.ErrInvalidReference))
	}

	ov, err := l.Overlay(ctx, overlayPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.log.Warn("overlay unavailable", "path", overlayPath, "error", err)
		return nil, apperrors.NewLoadError(apperrors.KindOverlayUnavailable, overlayPath, err)
	}
	if onOverlay != nil {
		onOverlay(ov)
	}

	fg, err := l.foreground(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &Result{Foreground: fg, Overlay: ov}, nil
}

// Overlay returns the decoded overlay for path, decoding it on first use.
func (l *Loader) Overlay(ctx context.Context, path string) (*core.DecodedImage, error) {
	l.mu.RLock()
	ov, ok := l.overlays[path]
	l.mu.RUnlock()
	if ok {
		return ov, nil
	}

	// The shared decode must not die with whichever caller started it.
	ch := l.group.DoChan(path, func() (interface{}, error) {
		var img *core.DecodedImage
		err := hooks.Observe(ctx, l.opts.Hooks, StageOverlay, func() error {
			var err error
			img, err = l.attempt(context.WithoutCancel(ctx), l.opts.OverlayTimeout, path, core.FetchNoCORS)
			return err
		})
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.overlays[path] = img
		l.mu.Unlock()
		return img, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.DecodedImage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) foreground(ctx context.Context, ref core.ImageReference) (*core.DecodedImage, error) {
	var fg *core.DecodedImage

	err := hooks.Observe(ctx, l.opts.Hooks, StageForegroundCORS, func() error {
		var err error
		fg, err = l.attempt(ctx, l.opts.ForegroundTimeout, ref.URL, core.FetchCORS)
		return err
	})
	if err == nil {
		return fg, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	l.log.Info("cross-origin load failed, retrying without cors",
		"title", ref.Title, "url", shorten(ref.URL), "error", err)

	err = hooks.Observe(ctx, l.opts.Hooks, StageForegroundFallback, func() error {
		var err error
		fg, err = l.attempt(ctx, l.opts.ForegroundTimeout, ref.URL, core.FetchNoCORS)
		return err
	})
	if err == nil {
		if fg.Tainted {
			l.log.Info("foreground loaded without cross-origin access; export will be blocked",
				"url", shorten(ref.URL))
		}
		return fg, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	kind := apperrors.KindForegroundNetworkOrDecode
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apperrors.KindForegroundTimeout
	}
	l.log.Warn("foreground load failed", "kind", string(kind), "url", shorten(ref.URL), "error", err)
	return nil, apperrors.NewLoadError(kind, ref.URL, err)
}

// attempt fetches and decodes rawURL, giving up when timeout elapses.  The
// fetch observes the same deadline, so an abandoned attempt stops promptly.
func (l *Loader) attempt(ctx context.Context, timeout time.Duration, rawURL string, mode core.FetchMode) (*core.DecodedImage, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		img *core.DecodedImage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		img, err := l.fetchDecode(actx, rawURL, mode)
		done <- outcome{img, err}
	}()

	select {
	case o := <-done:
		return o.img, o.err
	case <-actx.Done():
		return nil, apperrors.Wrap(apperrors.CategoryLoad, "loader.attempt."+mode.String(), actx.Err())
	}
}

func (l *Loader) fetchDecode(ctx context.Context, rawURL string, mode core.FetchMode) (*core.DecodedImage, error) {
	f, err := l.opts.Fetcher.Fetch(ctx, rawURL, mode)
	if err != nil {
		return nil, err
	}
	if l.opts.Metrics != nil {
		l.opts.Metrics.RecordThroughput(int64(len(f.Data)))
	}

	img, err := l.Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	img.Source = rawURL
	return img, nil
}

// Decode picks a decoder by sniffing the bytes, falling back to the declared
// content type.  The result is tainted unless f was cross-origin approved.
func (l *Loader) Decode(ctx context.Context, f *core.Fetched) (*core.DecodedImage, error) {
	if len(f.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "loader.decode", apperrors.ErrEmptyInput)
	}
	format := core.Format(utils.DetectFormat(f.Data))
	if format == core.FormatUnknown {
		format = core.FormatFromContentType(f.ContentType)
	}
	dec, ok := l.opts.Registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "loader.decode",
			fmt.Errorf("%w: %s (content-type %q)", apperrors.ErrUnsupportedFormat, format, f.ContentType))
	}

	img, err := dec.Decode(ctx, bytes.NewReader(f.Data))
	if err != nil {
		return nil, err
	}
	if img.Meta.SizeBytes == 0 {
		img.Meta.SizeBytes = int64(len(f.Data))
	}
	img.Tainted = !f.CrossOriginAllowed
	return img, nil
}

// shorten keeps data: URLs out of logs.
func shorten(u string) string {
	const max = 96
	if len(u) <= max {
		return u
	}
	return u[:max] + "…"
}
