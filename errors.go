package redisipc

import "errors"

var (
	// ErrAlreadyConnected indicates Connect was called on a connected stream.
	ErrAlreadyConnected = errors.New("redisipc: already connected")

	// ErrNotConnected indicates an operation that requires a connected stream.
	ErrNotConnected = errors.New("redisipc: not connected")

	// ErrMissingHandler indicates Connect was called before both the request
	// and error handlers were configured.
	ErrMissingHandler = errors.New("redisipc: request and error handlers must be set before connect")

	// ErrNoConsumersAvailable indicates a dispatcher refused to start because
	// no consumer had joined the instance's availability list.
	ErrNoConsumersAvailable = errors.New("redisipc: no consumers available")

	// ErrTimeout indicates the bounded wait for a reply expired.
	ErrTimeout = errors.New("redisipc: timed out waiting for reply")

	// ErrDuplicateEntry indicates a correlation id collision in the ledger.
	ErrDuplicateEntry = errors.New("redisipc: entry id already registered")
)
