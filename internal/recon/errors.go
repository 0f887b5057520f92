package recon

import (
	"errors"
	"fmt"
)

// ErrorKind classifies reconstruction failures. The kind string is what the
// caller sees in a failed ReconstructionResult.
type ErrorKind string

const (
	KindInvalidFrameData           ErrorKind = "InvalidFrameData"
	KindFrameCountTooLow           ErrorKind = "FrameCountTooLow"
	KindColorImageLoadFailed       ErrorKind = "ColorImageLoadFailed"
	KindDepthSizeMismatch          ErrorKind = "DepthSizeMismatch"
	KindDepthReadFailed            ErrorKind = "DepthReadFailed"
	KindRegistrationDidNotConverge ErrorKind = "RegistrationDidNotConverge"
	KindFusionFailed               ErrorKind = "FusionFailed"
	KindMeshExportFailed           ErrorKind = "MeshExportFailed"
	KindCanceled                   ErrorKind = "Canceled"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrInvalidFrameData           = &Error{Kind: KindInvalidFrameData, FrameIndex: -1}
	ErrFrameCountTooLow           = &Error{Kind: KindFrameCountTooLow, FrameIndex: -1}
	ErrColorImageLoadFailed       = &Error{Kind: KindColorImageLoadFailed, FrameIndex: -1}
	ErrDepthSizeMismatch          = &Error{Kind: KindDepthSizeMismatch, FrameIndex: -1}
	ErrDepthReadFailed            = &Error{Kind: KindDepthReadFailed, FrameIndex: -1}
	ErrRegistrationDidNotConverge = &Error{Kind: KindRegistrationDidNotConverge, FrameIndex: -1}
	ErrFusionFailed               = &Error{Kind: KindFusionFailed, FrameIndex: -1}
	ErrMeshExportFailed           = &Error{Kind: KindMeshExportFailed, FrameIndex: -1}
	ErrCanceled                   = &Error{Kind: KindCanceled, FrameIndex: -1}
)

// Error is a structured reconstruction failure.
type Error struct {
	Kind ErrorKind
	// FrameIndex is the offending frame's input index, or -1.
	FrameIndex int
	Path       string
	Reason     string
	// Got and Want carry actual vs expected counts (frames or bytes).
	Got, Want int64
	Err       error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindInvalidFrameData:
		msg = fmt.Sprintf("invalid frame data at index %d: %s", e.FrameIndex, e.Reason)
	case KindFrameCountTooLow:
		msg = fmt.Sprintf("insufficient frames: got %d, need at least %d", e.Got, e.Want)
	case KindColorImageLoadFailed:
		msg = fmt.Sprintf("failed to load color image %s", e.Path)
	case KindDepthSizeMismatch:
		msg = fmt.Sprintf("depth data size mismatch for %s: got %d bytes, expected %d", e.Path, e.Got, e.Want)
	case KindDepthReadFailed:
		msg = fmt.Sprintf("failed to read depth data %s", e.Path)
	case KindRegistrationDidNotConverge:
		msg = fmt.Sprintf("registration did not converge for frame %d: %s", e.FrameIndex, e.Reason)
	case KindFusionFailed:
		msg = fmt.Sprintf("fusion failed: %s", e.Reason)
	case KindMeshExportFailed:
		msg = fmt.Sprintf("mesh export failed for %s", e.Path)
	case KindCanceled:
		msg = "reconstruction canceled"
	default:
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrFusionFailed)
// works regardless of the details carried.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// InvalidFrameData reports a malformed or missing descriptor field.
func InvalidFrameData(index int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidFrameData, FrameIndex: index, Reason: fmt.Sprintf(format, args...)}
}

// FrameCountTooLow reports that fewer than the minimum frames were supplied.
func FrameCountTooLow(got, required int) *Error {
	return &Error{Kind: KindFrameCountTooLow, FrameIndex: -1, Got: int64(got), Want: int64(required)}
}

// ColorImageLoadFailed reports an unreadable or undecodable color image.
func ColorImageLoadFailed(index int, path string, err error) *Error {
	return &Error{Kind: KindColorImageLoadFailed, FrameIndex: index, Path: path, Err: err}
}

// DepthSizeMismatch reports a depth file whose length is not w*h*4 bytes.
func DepthSizeMismatch(index int, path string, got, want int64) *Error {
	return &Error{Kind: KindDepthSizeMismatch, FrameIndex: index, Path: path, Got: got, Want: want}
}

// DepthReadFailed reports a depth file that could not be read at all.
func DepthReadFailed(index int, path string, err error) *Error {
	return &Error{Kind: KindDepthReadFailed, FrameIndex: index, Path: path, Err: err}
}

// RegistrationDidNotConverge annotates a frame whose alignment stayed above
// the residual threshold or ran out of iterations. It is non-fatal.
func RegistrationDidNotConverge(index int, format string, args ...interface{}) *Error {
	return &Error{Kind: KindRegistrationDidNotConverge, FrameIndex: index, Reason: fmt.Sprintf(format, args...)}
}

// FusionFailed reports that no usable surface could be produced.
func FusionFailed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindFusionFailed, FrameIndex: -1, Reason: fmt.Sprintf(format, args...)}
}

// MeshExportFailed reports an I/O failure while writing the output file.
// err stays in the chain so callers can match the underlying cause.
func MeshExportFailed(path string, err error) *Error {
	return &Error{Kind: KindMeshExportFailed, FrameIndex: -1, Path: path, Err: err}
}

// Canceled wraps a context error.
func Canceled(err error) *Error {
	return &Error{Kind: KindCanceled, FrameIndex: -1, Err: err}
}
