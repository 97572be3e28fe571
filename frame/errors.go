package frame

import "github.com/teranos/roslyn-wrapper/errors"

// Framing errors. Once a length is miscounted the stream cannot be
// resynchronized, so all of these are fatal to the stream they came from.
var (
	// ErrMalformedHeader indicates a missing or unparsable Content-Length
	ErrMalformedHeader = errors.New("malformed frame header")

	// ErrTruncated indicates the stream ended before the declared body length
	ErrTruncated = errors.New("truncated frame body")

	// ErrInvalidBody indicates the body bytes are not JSON
	ErrInvalidBody = errors.New("invalid frame body")
)

// IsFramingError reports whether err is one of the framing errors.
func IsFramingError(err error) bool {
	return err != nil && errors.IsAny(err, ErrMalformedHeader, ErrTruncated, ErrInvalidBody)
}
