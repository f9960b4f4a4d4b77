package imagecompositor

import (
	"github.com/Skryldev/image-compositor/adapters/fetch"
	"github.com/Skryldev/image-compositor/loader"
)

// Loader exposes the shared loader for advanced use (e.g. loading images
// without a session in tests).  Prefer sessions for normal usage.
func (c *Compositor) Loader() *loader.Loader { return c.loader }

// Blobs exposes the blob store backing uploads and pastes.
func (c *Compositor) Blobs() *fetch.BlobStore { return c.blobs }
