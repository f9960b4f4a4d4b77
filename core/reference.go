package core

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/Skryldev/image-compositor/errors"
)

// Default titles for references that carry no natural name.
const (
	TitleUserProvided = "User provided image"
	TitlePasted       = "Pasted image"
)

// ImageReference points at image bytes: a remote URL, a data URL, or a blob
// URL.  It is immutable; the URL doubles as the reload cache key.
type ImageReference struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Key identifies the reference for reload decisions.
func (r ImageReference) Key() string { return r.URL }

// IsZero reports whether r is unset.
func (r ImageReference) IsZero() bool { return r.URL == "" }

// NewReference builds a reference from any dereferenceable URL.
func NewReference(rawURL, title string) (ImageReference, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ImageReference{}, fmt.Errorf("%w: empty url", apperrors.ErrInvalidReference)
	}
	return ImageReference{URL: rawURL, Title: norm.NFC.String(strings.TrimSpace(title))}, nil
}

// FromSearchResult wraps a remote search hit.
func FromSearchResult(rawURL, title string) (ImageReference, error) {
	return NewReference(rawURL, title)
}

// FromDataURL wraps an inline data: URL produced from a file or clipboard.
func FromDataURL(dataURL, title string) (ImageReference, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return ImageReference{}, fmt.Errorf("%w: not a data url", apperrors.ErrInvalidReference)
	}
	return NewReference(dataURL, title)
}

// FromURL validates a user-typed URL.  Only http and https are accepted and
// internationalised host names are converted to their ASCII form.
func FromURL(raw string) (ImageReference, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ImageReference{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidReference, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ImageReference{}, fmt.Errorf("%w: scheme %q", apperrors.ErrInvalidReference, u.Scheme)
	}
	if u.Hostname() == "" {
		return ImageReference{}, fmt.Errorf("%w: missing host", apperrors.ErrInvalidReference)
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return ImageReference{}, fmt.Errorf("%w: host: %v", apperrors.ErrInvalidReference, err)
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Host = host
	return NewReference(u.String(), TitleUserProvided)
}
