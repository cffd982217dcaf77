// Package transport defines how batches reach the collector and how the
// collector's answer is reduced to a delivery outcome.
package transport

import (
	"context"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/event"
)

// SDK identification sent with every request.
const (
	SDKName    = "tally-go"
	SDKVersion = "0.3.0"
)

// Transport delivers batches and fetches experiment assignments.
// Implementations must be safe for concurrent use.
type Transport interface {
	// SendEvents delivers one batch. It never returns a Go error; every
	// failure is folded into the result's outcome.
	SendEvents(ctx context.Context, events []event.Event, ectx event.Context) SendResult

	// FetchExperiments returns the variants assigned to userID.
	FetchExperiments(ctx context.Context, userID string) (map[string]string, error)
}

// Outcome is what the flush engine should do with a batch after a send.
type Outcome int

const (
	// Success means the collector accepted the batch; remove it.
	Success Outcome = iota

	// DropEvents means the batch can never be delivered; remove it.
	DropEvents

	// RetryLater means the batch must be kept and the flush stopped.
	RetryLater
)

// String returns the outcome name used in logs and metric attributes.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case DropEvents:
		return "drop"
	case RetryLater:
		return "retry"
	default:
		return "unknown"
	}
}

// SendResult is the outcome of one SendEvents call.
// Err is nil for Success and carries the reason otherwise.
type SendResult struct {
	Outcome Outcome
	Err     error
}

// Succeeded returns a Success result.
func Succeeded() SendResult {
	return SendResult{Outcome: Success}
}

// ResultFromError classifies err with the error taxonomy.
// A nil error is a Success.
func ResultFromError(err error) SendResult {
	if err == nil {
		return Succeeded()
	}
	if tallyerrors.IsDrop(err) {
		return SendResult{Outcome: DropEvents, Err: err}
	}
	return SendResult{Outcome: RetryLater, Err: err}
}

// Func adapts a pair of functions to the Transport interface.
// Nil functions succeed with no data.
type Func struct {
	Send  func(ctx context.Context, events []event.Event, ectx event.Context) SendResult
	Fetch func(ctx context.Context, userID string) (map[string]string, error)
}

// SendEvents implements Transport.
func (f Func) SendEvents(ctx context.Context, events []event.Event, ectx event.Context) SendResult {
	if f.Send == nil {
		return Succeeded()
	}
	return f.Send(ctx, events, ectx)
}

// FetchExperiments implements Transport.
func (f Func) FetchExperiments(ctx context.Context, userID string) (map[string]string, error) {
	if f.Fetch == nil {
		return map[string]string{}, nil
	}
	return f.Fetch(ctx, userID)
}
