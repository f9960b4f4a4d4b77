// Package vips is an optional libvips decoder backend.  Images are decoded,
// auto-rotated and optionally shrunk by libvips, then handed to the
// compositor as an image.Image.
package vips

import (
	"context"
	"fmt"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool

	// MaxDimension shrinks decoded images whose longer side exceeds it.
	// 0 keeps the natural size.
	MaxDimension int
	ChunkSize    int
}

// Backend is a libvips-powered Decoder.  Safe for concurrent use.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatGIF, core.FormatUnknown:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.DecodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, b.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	// Phone photos carry EXIF orientation; the compositor works on upright pixels.
	if err := ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.rotate", err)
	}
	if err := b.shrink(ref); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.shrink", err)
	}

	format := vipsFormatToCore(ref.Format())
	colorSpace := vipsInterpretationToColorSpace(ref.Interpretation())
	hasAlpha := ref.HasAlpha()

	img, err := ref.ToImage(govips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}
	bounds := img.Bounds()

	return &core.DecodedImage{
		Image: img,
		Meta: core.Metadata{
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Format:     format,
			ColorSpace: colorSpace,
			HasAlpha:   hasAlpha,
			SizeBytes:  int64(len(raw)),
		},
	}, nil
}

// shrink resizes ref in place with Lanczos3 when it exceeds MaxDimension.
func (b *Backend) shrink(ref *govips.ImageRef) error {
	longest := ref.Width()
	if ref.Height() > longest {
		longest = ref.Height()
	}
	if b.cfg.MaxDimension <= 0 || longest <= b.cfg.MaxDimension {
		return nil
	}
	scale := float64(b.cfg.MaxDimension) / float64(longest)
	if err := ref.Resize(scale, govips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize %dpx to %dpx: %w", longest, b.cfg.MaxDimension, err)
	}
	return nil
}

// ─── RegisterVipsBackend ──────────────────────────────────────────────────────

// RegisterVipsBackend replaces the Go stdlib decoders with libvips for all
// formats.  Encoders are left untouched.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatGIF, core.FormatUnknown} {
		reg.RegisterDecoder(f, b)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	case govips.ImageTypeGIF:
		return core.FormatGIF
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}

var _ core.Decoder = (*Backend)(nil)
