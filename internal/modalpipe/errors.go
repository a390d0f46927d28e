package modalpipe

import "errors"

// Domain errors for the pipe transport.
var (
	// ErrServerNotAvailable is returned when no server is publishing at the
	// requested pipe location.
	ErrServerNotAvailable = errors.New("modalpipe: server not available")

	// ErrTypeMismatch is returned when a server advertises a payload type
	// other than the one the client expects.
	ErrTypeMismatch = errors.New("modalpipe: payload type mismatch")

	// ErrInvalidName is returned for empty or malformed pipe names.
	ErrInvalidName = errors.New("modalpipe: invalid pipe name")

	// ErrInvalidFrame is returned by the record validators when a buffer is
	// not a whole number of well-formed records.
	ErrInvalidFrame = errors.New("modalpipe: invalid record frame")

	// ErrPayloadTooLarge is returned by Server.Write when a payload exceeds
	// the advertised buffer size.
	ErrPayloadTooLarge = errors.New("modalpipe: payload exceeds buffer size")

	// ErrClosed is returned when operating on a closed client or server.
	ErrClosed = errors.New("modalpipe: closed")
)
