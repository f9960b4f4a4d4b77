package engine

import (
	"context"
	"time"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
)

// Export encodes the surface exactly as last rendered as a PNG.
//
// It returns (nil, nil) when no images are loaded, and an error matching
// apperrors.ErrExportBlocked when cross-origin content without access was
// drawn.
func (e *Engine) Export(ctx context.Context) (*core.Artifact, error) {
	return e.encode(ctx, "engine.export", e.opts.Encoder, core.EncodeOptions{}, e.opts.ExportFilename, "image/png")
}

// Preview encodes the surface as a JPEG for cheap display refreshes.  A
// quality of 0 selects the configured default.  The rules of Export apply.
func (e *Engine) Preview(ctx context.Context, quality int) (*core.Artifact, error) {
	if quality <= 0 {
		quality = e.opts.PreviewQuality
	}
	return e.encode(ctx, "engine.preview", e.opts.PreviewEncoder, core.EncodeOptions{Quality: quality}, "preview.jpg", "image/jpeg")
}

func (e *Engine) encode(ctx context.Context, op string, enc core.Encoder, opts core.EncodeOptions, filename, contentType string) (*core.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded || e.front == nil {
		return nil, nil
	}
	if e.front.Tainted() {
		return nil, apperrors.New(apperrors.CategoryExport, op, apperrors.ErrExportBlocked)
	}

	data, err := enc.Encode(ctx, e.front.RGBA(), opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryExport, op, err)
	}
	return &core.Artifact{
		Data:        data,
		Filename:    filename,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
