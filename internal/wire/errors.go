package wire

import "errors"

// Sentinel errors named to match spec.md §4.1's three named failure
// conditions for a malformed or truncated datagram.
var (
	ErrInvalidVersion     = errors.New("invalid version")
	ErrInvalidHeaderLength = errors.New("invalid header length")
	ErrBufferTooSmall     = errors.New("buffer too small")
)
