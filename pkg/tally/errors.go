package tally

import (
	"errors"

	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// Sentinel errors for client construction and use.
var (
	// ErrBlankAPIKey indicates New was called without an API key and
	// without a custom transport.
	ErrBlankAPIKey = transport.ErrBlankAPIKey

	// ErrInvalidOption indicates an option value outside its valid range.
	ErrInvalidOption = errors.New("invalid option")

	// ErrClientClosed is returned by FlushWait after Shutdown.
	ErrClientClosed = errors.New("client shut down")
)
