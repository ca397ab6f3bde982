package wire

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is the root of every decoding failure. Use errors.Is
// to test for it; the specific errors below wrap it.
var ErrProtocolViolation = errors.New("protocol violation")

// Codec errors.
var (
	// ErrTruncated indicates a message ended before its declared length.
	ErrTruncated = fmt.Errorf("%w: truncated message", ErrProtocolViolation)

	// ErrUnterminatedString indicates a string field without its NUL terminator.
	ErrUnterminatedString = fmt.Errorf("%w: unterminated string", ErrProtocolViolation)

	// ErrPayloadSize indicates a frame payload whose length disagrees with the offsets.
	ErrPayloadSize = fmt.Errorf("%w: payload size mismatch", ErrProtocolViolation)

	// ErrSampleWidth indicates an offset entry that is neither 1 nor 2 bytes.
	ErrSampleWidth = fmt.Errorf("%w: unsupported sample width", ErrProtocolViolation)
)

// Encoding errors.
var (
	// ErrRequestTooLong indicates the request body does not fit the 1-byte length.
	ErrRequestTooLong = errors.New("request body exceeds 255 bytes")

	// ErrInvalidPath indicates a path that cannot be sent on the wire.
	ErrInvalidPath = errors.New("invalid device path")

	// ErrResponseTooLarge indicates the response body does not fit the 2-byte length.
	ErrResponseTooLarge = errors.New("response body exceeds 65535 bytes")

	// ErrTooManySources indicates a device with more than 255 sources.
	ErrTooManySources = errors.New("device has more than 255 sources")

	// ErrSampleCount indicates a data slice whose length differs from the offsets.
	ErrSampleCount = errors.New("sample count does not match offsets")
)
