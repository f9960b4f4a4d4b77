package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/utils"
)

const maxRedirects = 10

// HTTPOptions configures an HTTP fetcher.
type HTTPOptions struct {
	Client    *http.Client // defaults to a client without a cookie jar
	Origin    string       // document origin, e.g. "http://localhost:8080"
	UserAgent string
	MaxBytes  int64 // 0 = no limit
	ChunkSize int
}

// HTTP fetches remote images and evaluates cross-origin access the way a
// browser would for an anonymous request.
type HTTP struct {
	client    *http.Client
	origin    *url.URL
	userAgent string
	maxBytes  int64
	chunkSize int
}

// NewHTTP returns an HTTP fetcher.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	origin, err := ParseOrigin(opts.Origin)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "fetch.http.new", err)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{
		client:    client,
		origin:    origin,
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
		chunkSize: opts.ChunkSize,
	}, nil
}

// Fetch implements core.Fetcher.
//
// In FetchCORS mode the request carries an Origin header and the response
// must grant access unless it is same-origin.  In FetchNoCORS mode any 2xx
// response is accepted and CrossOriginAllowed reports whether access was
// granted anyway.  A redirect through another origin makes the response
// cross-origin even when the final URL is same-origin.
func (h *HTTP) Fetch(ctx context.Context, rawURL string, mode core.FetchMode) (*core.Fetched, error) {
	op := "fetch.http." + mode.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, op, err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if mode == core.FetchCORS {
		req.Header.Set("Origin", h.origin.String())
	}

	// A response stays same-origin only if every hop was.
	crossed := !SameOrigin(rawURL, h.origin)
	client := *h.client
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if !SameOrigin(next.URL.String(), h.origin) {
			crossed = true
		}
		if h.client.CheckRedirect != nil {
			return h.client.CheckRedirect(next, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.New(apperrors.CategoryFetch, op,
			fmt.Errorf("%w: %d from %s", apperrors.ErrHTTPStatus, resp.StatusCode, req.URL.Host))
	}

	allowed := !crossed || h.grants(resp.Header)
	if mode == core.FetchCORS && !allowed {
		return nil, apperrors.New(apperrors.CategoryFetch, op,
			fmt.Errorf("%w: %s", apperrors.ErrCrossOriginRejected, req.URL.Host))
	}

	data, err := utils.ReadAll(ctx, resp.Body, h.maxBytes, h.chunkSize)
	if err != nil {
		if errors.Is(err, utils.ErrLimitExceeded) {
			err = apperrors.ErrTooLarge
		}
		return nil, apperrors.Wrap(apperrors.CategoryFetch, op, err)
	}

	return &core.Fetched{
		Data:               data,
		ContentType:        resp.Header.Get("Content-Type"),
		CrossOriginAllowed: allowed,
	}, nil
}

// grants reports whether Access-Control-Allow-Origin admits the document
// origin for an uncredentialed request.
func (h *HTTP) grants(hdr http.Header) bool {
	acao := strings.TrimSpace(hdr.Get("Access-Control-Allow-Origin"))
	if acao == "*" {
		return true
	}
	return acao != "" && strings.EqualFold(strings.TrimRight(acao, "/"), h.origin.String())
}
