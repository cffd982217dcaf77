// Package errors provides the tally error taxonomy and its delivery policy.
//
// Every failure the SDK meets while talking to the collector or persisting
// state is classified into one of two categories:
//   - Retryable: the same payload may succeed later (network faults, rate
//     limits, server errors, unrecognised responses).
//   - Drop: the payload can never succeed (encoding failures, rejected or
//     unauthorised requests, invalid input).
//
// The flush engine maps these categories onto its three-way send outcome.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a failed delivery should be handled.
type Category int

const (
	// CategoryRetryable indicates the payload should be kept and retried later.
	// Examples: connection refused, 429, 503.
	CategoryRetryable Category = iota

	// CategoryDrop indicates the payload is permanently undeliverable.
	// Examples: malformed JSON, 400, 401, 403.
	CategoryDrop
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryRetryable:
		return "retryable"
	case CategoryDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with an explicit category.
// It overrides the category that Categorize would otherwise infer.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Retryable marks err as retryable.
func Retryable(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryRetryable, Context: context}
}

// Drop marks err as permanently undeliverable.
func Drop(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryDrop, Context: context}
}

// Categorize determines how an error should be handled.
// Unknown errors are retryable.
func Categorize(err error) Category {
	if err == nil {
		return CategoryRetryable
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Kind() {
		case KindBadRequest, KindUnauthorized, KindForbidden:
			return CategoryDrop
		default:
			return CategoryRetryable
		}
	}

	var encErr *EncodingError
	if errors.As(err, &encErr) {
		return CategoryDrop
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryDrop
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return CategoryRetryable
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryRetryable
	}

	return CategoryRetryable
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryRetryable
}

// IsDrop reports whether the payload that produced err should be discarded.
func IsDrop(err error) bool {
	return Categorize(err) == CategoryDrop
}
