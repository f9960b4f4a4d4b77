package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryPipeline  Category = "pipeline"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
	CategoryInput     Category = "input"
	CategoryFetch     Category = "fetch"
	CategoryLoad      Category = "load"
	CategoryRender    Category = "render"
	CategoryExport    Category = "export"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// ── Load errors ───────────────────────────────────────────────────────────────

// LoadKind tags the three ways a load cycle can fail.
type LoadKind string

const (
	KindOverlayUnavailable        LoadKind = "overlay_unavailable"
	KindForegroundTimeout         LoadKind = "foreground_timeout"
	KindForegroundNetworkOrDecode LoadKind = "foreground_network_or_decode"
)

// LoadError is returned by the loader.  Ref names the overlay path or the
// foreground URL that failed.
type LoadError struct {
	Kind LoadKind
	Ref  string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Message returns text suitable for display to an end user.
func (e *LoadError) Message() string {
	switch e.Kind {
	case KindOverlayUnavailable:
		return fmt.Sprintf("Failed to load frame image %q. Make sure it is present in the serving root.", e.Ref)
	case KindForegroundTimeout:
		return "Failed to load image: the request timed out. The image may be blocked by the server."
	default:
		return "Failed to load image: it could not be downloaded or decoded."
	}
}

// Hint suggests the user action that recovers from the error.
func (e *LoadError) Hint() string {
	if e.Kind == KindOverlayUnavailable {
		return "Check the overlay configuration."
	}
	return "Try selecting a different image."
}

// Recoverable reports whether picking a different foreground image can help.
func (e *LoadError) Recoverable() bool { return e.Kind != KindOverlayUnavailable }

// NewLoadError builds a LoadError.
func NewLoadError(kind LoadKind, ref string, err error) *LoadError {
	return &LoadError{Kind: kind, Ref: ref, Err: err}
}

// KindOf returns the LoadKind of err, or "" if err is not a LoadError.
func KindOf(err error) LoadKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsExportBlocked reports whether err stems from a tainted surface.
func IsExportBlocked(err error) bool { return errors.Is(err, ErrExportBlocked) }

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat   = errors.New("unsupported image format")
	ErrInvalidDimensions   = errors.New("invalid dimensions")
	ErrEmptyInput          = errors.New("empty input")
	ErrContextCanceled     = errors.New("context canceled")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrNotFound            = errors.New("resource not found")
	ErrHTTPStatus          = errors.New("unexpected http status")
	ErrCrossOriginRejected = errors.New("cross-origin access not granted")
	ErrUnsupportedScheme   = errors.New("unsupported url scheme")
	ErrMalformedDataURL    = errors.New("malformed data url")
	ErrExportBlocked       = errors.New("export blocked: surface tainted by cross-origin content")
	ErrInvalidReference    = errors.New("invalid image reference")
	ErrTooLarge            = errors.New("image exceeds size limit")
)
