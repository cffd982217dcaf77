package flush

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// ErrEngineClosed is reported to callbacks of flushes requested after Close.
var ErrEngineClosed = errors.New("flush engine closed")

// Report summarises one flush invocation.
type Report struct {
	// Coalesced is true when another flush was already running and this
	// call returned without doing anything.
	Coalesced bool

	// Batches is the number of send attempts.
	Batches int

	// Sent and Dropped count events removed from the store.
	Sent    int
	Dropped int

	// Retained is the number of events still buffered when the flush ended.
	Retained int

	// Err is why the flush stopped early: the last RetryLater reason, a
	// store error, a recovered panic or the context error.
	Err error

	Duration time.Duration
}

// Drained reports whether the flush ran and left the store empty.
func (r Report) Drained() bool {
	return !r.Coalesced && r.Err == nil && r.Retained == 0
}

// BatchResult describes the outcome of one batch send.
type BatchResult struct {
	Size    int
	Outcome transport.Outcome
	Err     error
}

// PanicError captures a panic raised by a store or transport during a flush.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("flush panicked: %v", e.Value)
}
