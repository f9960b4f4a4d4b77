package loader_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/image-compositor/adapters/decoder"
	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/hooks"
	"github.com/Skryldev/image-compositor/loader"
)

const (
	overlayPath = "/wolverine.png"
	fgURL       = "https://images.example/card.png"
)

func newPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type call struct {
	url  string
	mode core.FetchMode
}

// fakeFetcher answers per (url, mode) with a handler.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []call
	handlers map[call]func(ctx context.Context) (*core.Fetched, error)
}

func newFake() *fakeFetcher {
	return &fakeFetcher{handlers: map[call]func(context.Context) (*core.Fetched, error){}}
}

func (f *fakeFetcher) on(url string, mode core.FetchMode, h func(ctx context.Context) (*core.Fetched, error)) {
	f.handlers[call{url, mode}] = h
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, mode core.FetchMode) (*core.Fetched, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{url, mode})
	h, ok := f.handlers[call{url, mode}]
	f.mu.Unlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return h(ctx)
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.url == url {
			n++
		}
	}
	return n
}

func serve(data []byte, allowed bool) func(context.Context) (*core.Fetched, error) {
	return func(context.Context) (*core.Fetched, error) {
		return &core.Fetched{Data: data, ContentType: "image/png", CrossOriginAllowed: allowed}, nil
	}
}

func hang(ctx context.Context) (*core.Fetched, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newLoader(t *testing.T, f core.Fetcher, timeout time.Duration, hs ...core.Hook) *loader.Loader {
	t.Helper()
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	l, err := loader.New(loader.Options{
		Fetcher:           f,
		Registry:          reg,
		Hooks:             hs,
		ForegroundTimeout: timeout,
		OverlayTimeout:    timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func mustRef(t *testing.T) core.ImageReference {
	t.Helper()
	ref, err := core.FromSearchResult(fgURL, "Judge")
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestLoad_CORSPassSucceeds(t *testing.T) {
	f := newFake()
	f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))
	f.on(fgURL, core.FetchCORS, serve(newPNG(t, 10, 10), true))

	var sized *core.DecodedImage
	res, err := newLoader(t, f, time.Second).Load(context.Background(), mustRef(t), overlayPath,
		func(ov *core.DecodedImage) { sized = ov })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sized == nil || sized.Width() != 5 || sized.Height() != 8 {
		t.Errorf("onOverlay not called with overlay: %+v", sized)
	}
	if res.Foreground.Tainted {
		t.Error("cors foreground must not be tainted")
	}
	if res.Foreground.Source != fgURL {
		t.Errorf("source %q", res.Foreground.Source)
	}
	if n := f.count(fgURL); n != 1 {
		t.Errorf("foreground fetched %d times, want 1", n)
	}
}

func TestLoad_FallbackIsTainted(t *testing.T) {
	f := newFake()
	f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))
	f.on(fgURL, core.FetchCORS, func(context.Context) (*core.Fetched, error) {
		return nil, apperrors.ErrCrossOriginRejected
	})
	f.on(fgURL, core.FetchNoCORS, serve(newPNG(t, 10, 10), false))

	m := hooks.NewInMemoryMetrics()
	res, err := newLoader(t, f, time.Second, hooks.NewMetricsHook(m)).Load(context.Background(), mustRef(t), overlayPath, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !res.Foreground.Tainted {
		t.Error("fallback foreground without access must be tainted")
	}
	snap := m.Snapshot()
	if snap.StepErrors[loader.StageForegroundCORS] != 1 || snap.StepCalls[loader.StageForegroundFallback] != 1 {
		t.Errorf("stage metrics: %+v", snap)
	}
}

func TestLoad_TimeoutThenFallback(t *testing.T) {
	f := newFake()
	f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))
	f.on(fgURL, core.FetchCORS, hang)
	f.on(fgURL, core.FetchNoCORS, serve(newPNG(t, 10, 10), false))

	start := time.Now()
	res, err := newLoader(t, f, 50*time.Millisecond).Load(context.Background(), mustRef(t), overlayPath, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("fallback started before the cors pass timed out")
	}
	if !res.Foreground.Tainted {
		t.Error("expected tainted foreground")
	}
}

func TestLoad_BothPassesFail(t *testing.T) {
	tests := []struct {
		name     string
		fallback func(context.Context) (*core.Fetched, error)
		want     apperrors.LoadKind
	}{
		{"timeout", hang, apperrors.KindForegroundTimeout},
		{"network", func(context.Context) (*core.Fetched, error) { return nil, errors.New("connection reset") }, apperrors.KindForegroundNetworkOrDecode},
		{"decode", serve([]byte("definitely not an image"), false), apperrors.KindForegroundNetworkOrDecode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFake()
			f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))
			f.on(fgURL, core.FetchCORS, func(context.Context) (*core.Fetched, error) { return nil, errors.New("refused") })
			f.on(fgURL, core.FetchNoCORS, tc.fallback)

			_, err := newLoader(t, f, 30*time.Millisecond).Load(context.Background(), mustRef(t), overlayPath, nil)
			if got := apperrors.KindOf(err); got != tc.want {
				t.Fatalf("kind = %q, want %q (err %v)", got, tc.want, err)
			}
			var le *apperrors.LoadError
			if !errors.As(err, &le) || !le.Recoverable() || le.Ref != fgURL {
				t.Errorf("unexpected load error %+v", le)
			}
			if n := f.count(fgURL); n != 2 {
				t.Errorf("foreground attempts = %d, want exactly 2", n)
			}
		})
	}
}

func TestLoad_OverlayMissingStopsBeforeForeground(t *testing.T) {
	f := newFake()
	f.on(fgURL, core.FetchCORS, serve(newPNG(t, 10, 10), true))

	called := false
	_, err := newLoader(t, f, time.Second).Load(context.Background(), mustRef(t), overlayPath,
		func(*core.DecodedImage) { called = true })
	if apperrors.KindOf(err) != apperrors.KindOverlayUnavailable {
		t.Fatalf("kind = %q (err %v)", apperrors.KindOf(err), err)
	}
	if called {
		t.Error("onOverlay called for a missing overlay")
	}
	if n := f.count(fgURL); n != 0 {
		t.Errorf("foreground attempted %d times after overlay failure", n)
	}
}

func TestLoad_OverlayDecodedOnce(t *testing.T) {
	f := newFake()
	f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))
	f.on(fgURL, core.FetchCORS, serve(newPNG(t, 10, 10), true))

	l := newLoader(t, f, time.Second)
	var first *core.DecodedImage
	for i := 0; i < 3; i++ {
		res, err := l.Load(context.Background(), mustRef(t), overlayPath, nil)
		if err != nil {
			t.Fatal(err)
		}
		if first == nil {
			first = res.Overlay
		} else if res.Overlay != first {
			t.Error("overlay re-decoded")
		}
	}
	if n := f.count(overlayPath); n != 1 {
		t.Errorf("overlay fetched %d times, want 1", n)
	}
}

func TestLoad_ParentCancelled(t *testing.T) {
	f := newFake()
	f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))
	f.on(fgURL, core.FetchCORS, hang)
	f.on(fgURL, core.FetchNoCORS, hang)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := newLoader(t, f, time.Second).Load(ctx, mustRef(t), overlayPath, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if apperrors.KindOf(err) != "" {
		t.Error("cancellation must not be reported as a load error")
	}
}

func TestLoad_EmptyReference(t *testing.T) {
	f := newFake()
	f.on(overlayPath, core.FetchNoCORS, serve(newPNG(t, 5, 8), true))

	_, err := newLoader(t, f, time.Second).Load(context.Background(), core.ImageReference{}, overlayPath, nil)
	if apperrors.KindOf(err) != apperrors.KindForegroundNetworkOrDecode {
		t.Fatalf("err = %v, want a foreground load error", err)
	}
	if !errors.Is(err, apperrors.ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference in chain", err)
	}
	if n := f.count(overlayPath); n != 0 {
		t.Errorf("overlay fetched %d times for an empty reference", n)
	}
}
