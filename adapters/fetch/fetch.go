// Package fetch dereferences image URLs: remote http(s), inline data: URLs,
// in-memory blob: URLs and assets under the serving root.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
)

// Router dispatches a URL to the fetcher responsible for its scheme.
// A nil fetcher for a scheme makes that scheme unsupported.
type Router struct {
	HTTP   core.Fetcher
	Data   core.Fetcher
	Blob   core.Fetcher
	Assets core.Fetcher
}

// Fetch implements core.Fetcher.
func (r *Router) Fetch(ctx context.Context, rawURL string, mode core.FetchMode) (*core.Fetched, error) {
	f, err := r.route(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.route", err)
	}
	return f.Fetch(ctx, rawURL, mode)
}

func (r *Router) route(rawURL string) (core.Fetcher, error) {
	var f core.Fetcher
	switch scheme(rawURL) {
	case "":
		f = r.Assets
	case "http", "https":
		f = r.HTTP
	case "data":
		f = r.Data
	case "blob":
		f = r.Blob
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedScheme, truncate(rawURL, 64))
	}
	return f, nil
}

// scheme returns the lower-cased URL scheme, or "" for a root-relative path.
func scheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "/") {
		return ""
	}
	i := strings.IndexByte(rawURL, ':')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(rawURL[:i])
}

// IsRemote reports whether rawURL is fetched over the network.
func IsRemote(rawURL string) bool {
	s := scheme(rawURL)
	return s == "http" || s == "https"
}

// SameOrigin reports whether rawURL shares scheme, host and port with origin.
func SameOrigin(rawURL string, origin *url.URL) bool {
	if origin == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, origin.Scheme) &&
		strings.EqualFold(u.Hostname(), origin.Hostname()) &&
		effectivePort(u) == effectivePort(origin)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// ParseOrigin parses and serialises an origin as scheme://host[:port].
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must have scheme and host", raw)
	}
	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
