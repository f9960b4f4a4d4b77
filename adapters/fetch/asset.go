package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"strings"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
)

// Assets serves root-relative paths such as "/wolverine.png" from a
// filesystem, standing in for the page's serving root.
type Assets struct {
	fsys fs.FS
}

func NewAssets(fsys fs.FS) *Assets { return &Assets{fsys: fsys} }

// Fetch implements core.Fetcher.  Assets are same-origin.
func (a *Assets) Fetch(ctx context.Context, rawURL string, _ core.FetchMode) (*core.Fetched, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.asset", err)
	}
	name := assetName(rawURL)
	data, err := fs.ReadFile(a.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			err = fmt.Errorf("%w: %s", apperrors.ErrNotFound, rawURL)
		}
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.asset", err)
	}
	return &core.Fetched{
		Data:               data,
		ContentType:        mime.TypeByExtension(path.Ext(name)),
		CrossOriginAllowed: true,
	}, nil
}

// assetName maps "/a/b.png?v=1" to the fs.FS name "a/b.png".
func assetName(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	name := strings.TrimPrefix(path.Clean("/"+rawURL), "/")
	if name == "" {
		return "."
	}
	return name
}
