// Package imagecompositor wires the loader, render pipeline, codecs, fetchers
// and storage into sessions that composite a user image under a fixed overlay.
package imagecompositor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-compositor/adapters/cache"
	"github.com/Skryldev/image-compositor/adapters/decoder"
	"github.com/Skryldev/image-compositor/adapters/encoder"
	"github.com/Skryldev/image-compositor/adapters/fetch"
	"github.com/Skryldev/image-compositor/adapters/storage"
	"github.com/Skryldev/image-compositor/config"
	"github.com/Skryldev/image-compositor/core"
	"github.com/Skryldev/image-compositor/engine"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/hooks"
	"github.com/Skryldev/image-compositor/loader"
	"github.com/Skryldev/image-compositor/pipeline"
	"github.com/Skryldev/image-compositor/utils"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises New.
type Option func(*options)

type options struct {
	logger     core.Logger
	hooks      []core.Hook
	assets     fs.FS
	httpClient *http.Client
	cache      core.FetchCache
	storage    core.StorageAdapter
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithHook registers an observer for load stages and render steps.
func WithHook(h core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h) } }

// WithAssets serves root-relative paths from fsys instead of cfg.AssetRoot.
func WithAssets(fsys fs.FS) Option { return func(o *options) { o.assets = fsys } }

// WithHTTPClient replaces the client used for remote images.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithCache overrides the fetch cache selected by cfg.Cache.
func WithCache(c core.FetchCache) Option { return func(o *options) { o.cache = c } }

// WithStorage overrides the storage adapter selected by cfg.Storage.
func WithStorage(s core.StorageAdapter) Option { return func(o *options) { o.storage = s } }

// Compositor is the primary entry point.  It is safe for concurrent use and
// shares decoded overlays and cached fetches between sessions.
type Compositor struct {
	cfg     config.Config
	reg     *core.DefaultRegistry
	blobs   *fetch.BlobStore
	loader  *loader.Loader
	storage core.StorageAdapter
	log     core.Logger
	metrics *hooks.InMemoryMetrics
	hooks   []core.Hook
	interp  xdraw.Interpolator
	closers []func() error
}

// New creates a fully wired Compositor with the JPEG, PNG, GIF and WebP
// decoders and the PNG and JPEG encoders registered.
func New(cfg config.Config, opts ...Option) (*Compositor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "compositor.new", err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = core.NopLogger{}
	}

	interp, err := pipeline.Interpolator(cfg.Interpolation)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "compositor.new", err)
	}

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatGIF, decoder.NewGIF())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.PreviewQuality))

	c := &Compositor{cfg: cfg, reg: reg, log: log, metrics: hooks.NewInMemoryMetrics(), interp: interp}
	c.hooks = append([]core.Hook{hooks.NewLoggingHook(log), hooks.NewMetricsHook(c.metrics)}, o.hooks...)

	fetcher, err := c.buildFetcher(o)
	if err != nil {
		return nil, err
	}
	c.loader, err = loader.New(loader.Options{
		Fetcher:           fetcher,
		Registry:          reg,
		Logger:            log,
		Hooks:             c.hooks,
		Metrics:           c.metrics,
		ForegroundTimeout: cfg.ForegroundTimeout,
		OverlayTimeout:    cfg.OverlayTimeout,
	})
	if err != nil {
		return nil, err
	}

	c.storage = o.storage
	if c.storage == nil {
		if c.storage, err = buildStorage(cfg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Compositor) buildFetcher(o options) (core.Fetcher, error) {
	httpFetcher, err := fetch.NewHTTP(fetch.HTTPOptions{
		Client:    o.httpClient,
		Origin:    c.cfg.DocumentOrigin,
		UserAgent: c.cfg.UserAgent,
		MaxBytes:  c.cfg.MaxImageBytes,
		ChunkSize: c.cfg.ChunkSize,
	})
	if err != nil {
		return nil, err
	}
	assets := o.assets
	if assets == nil {
		assets = os.DirFS(c.cfg.AssetRoot)
	}
	c.blobs = fetch.NewBlobStore(c.cfg.DocumentOrigin)

	router := &fetch.Router{
		HTTP:   httpFetcher,
		Data:   fetch.NewData(c.cfg.MaxImageBytes),
		Blob:   c.blobs,
		Assets: fetch.NewAssets(assets),
	}

	fc := o.cache
	if fc == nil {
		switch c.cfg.Cache {
		case config.CacheMemory:
			fc = cache.NewMemory(c.cfg.CacheTTL)
		case config.CacheRedis:
			r := cache.NewRedis(cache.RedisOptions{
				Addr:     c.cfg.Redis.Addr,
				Password: c.cfg.Redis.Password,
				DB:       c.cfg.Redis.DB,
				TTL:      c.cfg.CacheTTL,
			})
			c.closers = append(c.closers, r.Close)
			fc = r
		}
	}
	if fc == nil {
		return router, nil
	}
	return fetch.NewCached(router, fc, c.log), nil
}

func buildStorage(cfg config.Config) (core.StorageAdapter, error) {
	switch cfg.Storage {
	case config.StorageS3:
		client, err := storage.NewAWSClient(context.Background(), storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, cfg.S3.Bucket)
	default:
		return storage.NewLocal(cfg.Local.RootDir, fs.FileMode(cfg.Local.Permissions))
	}
}

// NewSession returns an empty engine bound to the shared loader.
func (c *Compositor) NewSession() *engine.Engine {
	pl := pipeline.Default(c.interp)
	for _, h := range c.hooks {
		pl.AddHook(h)
	}
	return engine.New(c.loader, engine.Options{
		OverlayPath:    c.cfg.OverlayPath,
		ExportFilename: c.cfg.ExportFilename,
		PreviewQuality: c.cfg.PreviewQuality,
		Pipeline:       pl,
		Encoder:        mustEncoder(c.reg, core.FormatPNG),
		PreviewEncoder: mustEncoder(c.reg, core.FormatJPEG),
		Logger:         c.log,
	})
}

func mustEncoder(reg core.Registry, f core.Format) core.Encoder {
	enc, ok := reg.EncoderFor(f)
	if !ok {
		panic(fmt.Sprintf("imagecompositor: no %s encoder registered", f))
	}
	return enc
}

// WarmOverlay decodes the configured overlay ahead of the first session.
func (c *Compositor) WarmOverlay(ctx context.Context) error {
	_, err := c.loader.Overlay(ctx, c.cfg.OverlayPath)
	if err != nil {
		return apperrors.NewLoadError(apperrors.KindOverlayUnavailable, c.cfg.OverlayPath, err)
	}
	return nil
}

// RegisterDecoder registers a custom decoder for the given format.
func (c *Compositor) RegisterDecoder(f core.Format, d core.Decoder) { c.reg.RegisterDecoder(f, d) }

// Registry exposes the codec registry, e.g. for installing the vips backend.
func (c *Compositor) Registry() core.Registry { return c.reg }

// Config returns the configuration the compositor was built with.
func (c *Compositor) Config() config.Config { return c.cfg }

// Metrics returns a snapshot of load and render stage metrics.
func (c *Compositor) Metrics() hooks.MetricsSnapshot { return c.metrics.Snapshot() }

// Storage returns the adapter exported artifacts are saved to.
func (c *Compositor) Storage() core.StorageAdapter { return c.storage }

// Close releases external connections.
func (c *Compositor) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── References ────────────────────────────────────────────────────────────────

// FromURL validates a user-typed http(s) URL.
func FromURL(raw string) (core.ImageReference, error) { return core.FromURL(raw) }

// FromSearchResult wraps an image search hit.
func FromSearchResult(url, title string) (core.ImageReference, error) {
	return core.FromSearchResult(url, title)
}

// FromUpload stores an uploaded file under a blob: URL titled with its name.
func (c *Compositor) FromUpload(data []byte, contentType, filename string) (core.ImageReference, error) {
	title := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if title == "." || title == "/" {
		title = core.TitleUserProvided
	}
	return c.fromBytes(data, contentType, title)
}

// FromPaste stores clipboard image data under a blob: URL.
func (c *Compositor) FromPaste(data []byte, contentType string) (core.ImageReference, error) {
	return c.fromBytes(data, contentType, core.TitlePasted)
}

func (c *Compositor) fromBytes(data []byte, contentType, title string) (core.ImageReference, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return core.ImageReference{}, fmt.Errorf("%w: content type %q is not an image", apperrors.ErrInvalidReference, contentType)
	}
	if len(data) == 0 {
		return core.ImageReference{}, fmt.Errorf("%w: empty file", apperrors.ErrInvalidReference)
	}
	if max := c.cfg.MaxImageBytes; max > 0 && int64(len(data)) > max {
		return core.ImageReference{}, apperrors.ErrTooLarge
	}
	return core.NewReference(c.blobs.Put(data, contentType), title)
}

// Release frees the blob behind ref, if it is one.
func (c *Compositor) Release(ref core.ImageReference) {
	if strings.HasPrefix(ref.URL, "blob:") {
		c.blobs.Revoke(ref.URL)
	}
}

// ── Saving ────────────────────────────────────────────────────────────────────

// Save writes art to storage under a unique key and returns the key.
func (c *Compositor) Save(ctx context.Context, art *core.Artifact) (core.StorageKey, error) {
	if art == nil {
		return core.StorageKey{}, apperrors.New(apperrors.CategoryStorage, "compositor.save", apperrors.ErrEmptyInput)
	}
	key := core.StorageKey{Path: ulid.Make().String() + "-" + art.Filename}
	meta := map[string]string{
		"content-type": art.ContentType,
		"created-at":   art.CreatedAt.Format(time.RFC3339),
	}
	if err := c.storage.Put(ctx, key, utils.BytesReader(art.Data), meta); err != nil {
		return core.StorageKey{}, err
	}
	c.log.Info("artifact saved", "path", key.Path, "bytes", len(art.Data))
	return key, nil
}
