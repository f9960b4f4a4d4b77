package core

import (
	"encoding/base64"
	"image"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatGIF     Format = "gif"
	FormatUnknown Format = "unknown"
)

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds information extracted while decoding.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	HasAlpha   bool
	SizeBytes  int64
}

// DecodedImage is a fully decoded, drawable bitmap.
//
// Tainted is set when the bytes were obtained without cross-origin approval;
// drawing a tainted image onto a Surface makes the surface non-exportable.
type DecodedImage struct {
	Image   image.Image
	Meta    Metadata
	Source  string
	Tainted bool
}

// Width returns the natural pixel width.
func (d *DecodedImage) Width() int { return d.Image.Bounds().Dx() }

// Height returns the natural pixel height.
func (d *DecodedImage) Height() int { return d.Image.Bounds().Dy() }

// FetchMode selects how a URL is dereferenced.
type FetchMode int

const (
	// FetchCORS requests anonymous cross-origin access: no credentials, and the
	// response must grant access to the document origin.
	FetchCORS FetchMode = iota
	// FetchNoCORS fetches without cross-origin mode.  The result may still be
	// displayable but is tainted unless the server happened to grant access.
	FetchNoCORS
)

func (m FetchMode) String() string {
	if m == FetchCORS {
		return "cors"
	}
	return "no-cors"
}

// Fetched is the raw result of dereferencing an image URL.
type Fetched struct {
	Data               []byte `json:"data"`
	ContentType        string `json:"content_type"`
	CrossOriginAllowed bool   `json:"cross_origin_allowed"`
}

// Scene is the read-only input of a render pass.
type Scene struct {
	Foreground *DecodedImage
	Overlay    *DecodedImage
	Transform  Transform
}

// Artifact is an exported composite.
type Artifact struct {
	Data        []byte
	Filename    string
	ContentType string
	CreatedAt   time.Time
}

// StorageKey uniquely identifies a stored artifact.
type StorageKey struct {
	Bucket string
	Path   string
}

// DataURL renders the artifact as an inline data: URL.
func (a *Artifact) DataURL() string {
	return "data:" + a.ContentType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
