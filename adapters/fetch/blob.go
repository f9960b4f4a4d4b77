package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/utils"
)

type blobEntry struct {
	data        []byte
	contentType string
}

// BlobStore holds uploaded and pasted files under blob: URLs until revoked.
type BlobStore struct {
	mu     sync.RWMutex
	origin string
	blobs  map[string]blobEntry
}

// NewBlobStore returns an empty store minting URLs under origin.
func NewBlobStore(origin string) *BlobStore {
	return &BlobStore{origin: origin, blobs: make(map[string]blobEntry)}
}

// Put stores a copy of data and returns its blob: URL.
func (b *BlobStore) Put(data []byte, contentType string) string {
	u := fmt.Sprintf("blob:%s/%s", b.origin, ulid.Make().String())

	b.mu.Lock()
	b.blobs[u] = blobEntry{data: utils.CloneBytes(data), contentType: contentType}
	b.mu.Unlock()
	return u
}

// Revoke releases the blob behind u.  Unknown URLs are ignored.
func (b *BlobStore) Revoke(u string) {
	b.mu.Lock()
	delete(b.blobs, u)
	b.mu.Unlock()
}

// Len returns the number of live blobs.
func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Fetch implements core.Fetcher.  Blobs are same-origin.
func (b *BlobStore) Fetch(ctx context.Context, rawURL string, _ core.FetchMode) (*core.Fetched, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.blob", err)
	}
	b.mu.RLock()
	e, ok := b.blobs[rawURL]
	b.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.CategoryFetch, "fetch.blob",
			fmt.Errorf("%w: %s", apperrors.ErrNotFound, rawURL))
	}
	return &core.Fetched{Data: e.data, ContentType: e.contentType, CrossOriginAllowed: true}, nil
}
