package core

import (
	"context"
	"image"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into a DecodedImage.
// Implementations live in adapters/decoder/ and adapters/vips/.
type Decoder interface {
	// Decode reads from r and returns a decoded image.
	Decode(ctx context.Context, r io.Reader) (*DecodedImage, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises a bitmap to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality         int  // 1-100; 0 = use encoder default
	BestCompression bool // PNG only
}

// Fetcher dereferences an image URL.  Implementations live in adapters/fetch/.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, mode FetchMode) (*Fetched, error)
}

// FetchCache stores fetch results keyed by an opaque string.
// A miss is reported as (nil, false, nil).
type FetchCache interface {
	Get(ctx context.Context, key string) (*Fetched, bool, error)
	Set(ctx context.Context, key string, f *Fetched) error
}

// StorageAdapter persists exported artifacts and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// Step is one stage of a render pass.  It draws scene content onto dst.
type Step interface {
	Name() string
	Execute(ctx context.Context, dst *Surface, scene Scene) error
}

// Hook is an optional observer invoked around load stages and render steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string)
	AfterStep(ctx context.Context, stepName string, d time.Duration, err error)
}

// MetricsCollector receives performance observations.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
