package fetch

import (
	"context"

	"github.com/Skryldev/image-compositor/core"
	"github.com/Skryldev/image-compositor/utils"
)

// Cached consults a FetchCache before delegating remote fetches.  Inline,
// blob and asset URLs bypass the cache.  Failures are never cached.
type Cached struct {
	next  core.Fetcher
	cache core.FetchCache
	log   core.Logger
}

func NewCached(next core.Fetcher, cache core.FetchCache, log core.Logger) *Cached {
	if log == nil {
		log = core.NopLogger{}
	}
	return &Cached{next: next, cache: cache, log: log}
}

// CacheKey is the key a remote fetch is stored under.
func CacheKey(rawURL string, mode core.FetchMode) string {
	return "fetch:" + utils.BytesMD5([]byte(mode.String()+" "+rawURL))
}

// Fetch implements core.Fetcher.
func (c *Cached) Fetch(ctx context.Context, rawURL string, mode core.FetchMode) (*core.Fetched, error) {
	if c.cache == nil || !IsRemote(rawURL) {
		return c.next.Fetch(ctx, rawURL, mode)
	}

	key := CacheKey(rawURL, mode)
	if f, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("fetch cache get failed", "key", key, "error", err)
	} else if ok {
		c.log.Debug("fetch cache hit", "url", truncate(rawURL, 128), "mode", mode.String())
		return f, nil
	}

	f, err := c.next.Fetch(ctx, rawURL, mode)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, f); err != nil {
		c.log.Warn("fetch cache set failed", "key", key, "error", err)
	}
	return f, nil
}
