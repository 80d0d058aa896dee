package webcodecs

import (
	"errors"
	"fmt"
)

// Common errors returned by parsers, frame buffers, and pipelines.
var (
	// ErrInvalidCodecString indicates a codec string that does not match
	// any supported grammar. Use errors.Is to test for it; the returned
	// error message carries the specific reason.
	ErrInvalidCodecString = errors.New("invalid codec string")

	// ErrClosed is returned when operating on a closed pipeline or frame.
	ErrClosed = errors.New("closed")

	// ErrUnconfigured is returned when encoding or decoding before a
	// successful Configure call.
	ErrUnconfigured = errors.New("not configured")

	// ErrBufferTooSmall is returned by CopyTo when the destination cannot
	// hold the requested planes.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInvalidBitstream indicates malformed Annex B or length-prefixed
	// data.
	ErrInvalidBitstream = errors.New("invalid bitstream")

	// ErrInvalidConfigRecord indicates a malformed avcC/hvcC decoder
	// configuration record.
	ErrInvalidConfigRecord = errors.New("invalid decoder configuration record")

	// ErrKeyChunkRequired is reported when the first chunk after
	// Configure, Reset, or Flush is not a key chunk.
	ErrKeyChunkRequired = errors.New("key chunk required")

	// ErrUnsupportedOperation is returned by pixel-access operations on
	// frames that wrap an opaque platform buffer handle.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// NotSupportedError reports a configuration the registered engines cannot
// serve. It satisfies errors.Is(err, ErrNotSupported).
type NotSupportedError struct {
	Reason string
}

// ErrNotSupported is the sentinel matched by NotSupportedError.
var ErrNotSupported = errors.New("not supported")

func (e *NotSupportedError) Error() string {
	return "not supported: " + e.Reason
}

func (e *NotSupportedError) Is(target error) bool {
	return target == ErrNotSupported
}

func unsupportedf(format string, args ...any) error {
	return &NotSupportedError{Reason: fmt.Sprintf(format, args...)}
}

func codecStringError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidCodecString}, args...)...)
}
