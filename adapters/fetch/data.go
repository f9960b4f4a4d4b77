package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
)

// Data decodes RFC 2397 data: URLs.  The content is same-origin by
// definition.
type Data struct {
	MaxBytes int64
}

func NewData(maxBytes int64) *Data { return &Data{MaxBytes: maxBytes} }

// Fetch implements core.Fetcher.  The mode is irrelevant for inline content.
func (d *Data) Fetch(ctx context.Context, rawURL string, _ core.FetchMode) (*core.Fetched, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.data", err)
	}
	ct, data, err := ParseDataURL(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.data", err)
	}
	if d.MaxBytes > 0 && int64(len(data)) > d.MaxBytes {
		return nil, apperrors.New(apperrors.CategoryFetch, "fetch.data", apperrors.ErrTooLarge)
	}
	return &core.Fetched{Data: data, ContentType: ct, CrossOriginAllowed: true}, nil
}

// ParseDataURL splits a data: URL into its media type and payload.
func ParseDataURL(rawURL string) (string, []byte, error) {
	if len(rawURL) < 5 || !strings.EqualFold(rawURL[:5], "data:") {
		return "", nil, fmt.Errorf("%w: missing data: prefix", apperrors.ErrMalformedDataURL)
	}
	header, payload, ok := strings.Cut(rawURL[5:], ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing comma", apperrors.ErrMalformedDataURL)
	}

	isBase64 := false
	if h, found := strings.CutSuffix(header, ";base64"); found {
		header, isBase64 = h, true
	}
	mediaType := strings.TrimSpace(header)
	if mediaType == "" {
		mediaType = "text/plain;charset=US-ASCII"
	}

	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDataURL, err)
		}
		return mediaType, []byte(s), nil
	}

	// Browsers tolerate whitespace and missing padding.
	payload = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	if p, err := url.PathUnescape(payload); err == nil {
		payload = p
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDataURL, err)
	}
	return mediaType, data, nil
}
