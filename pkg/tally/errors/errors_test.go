package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryRetryable, "retryable"},
		{CategoryDrop, "drop"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryRetryable},
		{"HTTP 400", &HTTPError{StatusCode: 400}, CategoryDrop},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryDrop},
		{"HTTP 403", &HTTPError{StatusCode: 403}, CategoryDrop},
		{"HTTP 404", &HTTPError{StatusCode: 404}, CategoryRetryable},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryRetryable},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryRetryable},
		{"HTTP 599", &HTTPError{StatusCode: 599}, CategoryRetryable},
		{"HTTP 302", &HTTPError{StatusCode: 302}, CategoryRetryable},
		{"network error", &NetworkError{Op: "send", Err: errors.New("connection refused")}, CategoryRetryable},
		{"encoding error", &EncodingError{Op: "marshal", Err: errors.New("bad value")}, CategoryDrop},
		{"validation error", &ValidationError{Field: "event name", Message: "bad"}, CategoryDrop},
		{"context canceled", context.Canceled, CategoryRetryable},
		{"wrapped HTTP 401", fmt.Errorf("send: %w", &HTTPError{StatusCode: 401}), CategoryDrop},
		{"categorized override", Drop(&NetworkError{Op: "send"}, "forced"), CategoryDrop},
		{"unknown error", errors.New("unknown"), CategoryRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestHTTPErrorKind(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, KindBadRequest},
		{401, KindUnauthorized},
		{403, KindForbidden},
		{429, KindRateLimited},
		{500, KindServerError},
		{503, KindServerError},
		{404, KindUnexpectedStatus},
		{200, KindUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := &HTTPError{StatusCode: tt.status}
			if got := err.Kind(); got != tt.want {
				t.Errorf("Kind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Run("HTTP with endpoint", func(t *testing.T) {
		err := &HTTPError{StatusCode: 503, Endpoint: "/v1/events", Message: "unavailable"}
		if got := err.Error(); got != "HTTP 503 at /v1/events: unavailable" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("validation with field", func(t *testing.T) {
		err := &ValidationError{Field: "event name", Value: "x-y", Message: "must match grammar"}
		if got := err.Error(); got != `invalid event name "x-y": must match grammar` {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("categorized unwraps", func(t *testing.T) {
		inner := errors.New("inner")
		err := Retryable(inner, "fetch")
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
		if got := err.Error(); got != "fetch: inner (category: retryable, attempts: 0)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("network unwraps", func(t *testing.T) {
		err := &NetworkError{Op: "send", Err: context.DeadlineExceeded}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Error("NetworkError should unwrap to its cause")
		}
	})
}

func TestWithRetryContext(t *testing.T) {
	fast := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}

	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), fast, func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})
		if result.Err != nil || result.Value != "ok" || result.Attempts != 1 || calls != 1 {
			t.Errorf("unexpected result %+v after %d calls", result, calls)
		}
	})

	t.Run("retries retryable errors", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, &NetworkError{Op: "fetch", Err: errors.New("reset")}
			}
			return 42, nil
		})
		if result.Err != nil || result.Value != 42 || result.Attempts != 3 {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("stops on drop errors", func(t *testing.T) {
		calls := 0
		result := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			calls++
			return 0, &HTTPError{StatusCode: 401}
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		var httpErr *HTTPError
		if !errors.As(result.Err, &httpErr) || httpErr.StatusCode != 401 {
			t.Errorf("Err = %v, want wrapped HTTP 401", result.Err)
		}
		if Categorize(result.Err) != CategoryDrop {
			t.Errorf("category = %s, want drop", Categorize(result.Err))
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		result := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
			return 0, &HTTPError{StatusCode: 503}
		})
		if result.Attempts != 3 || result.Err == nil {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("zero attempts means one", func(t *testing.T) {
		calls := 0
		WithRetryContext(context.Background(), RetryConfig{}, func(context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("backoff uses the configured clock", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		mClock := quartz.NewMock(t)
		trap := mClock.Trap().NewTimer("retry", "backoff")
		defer trap.Close()

		cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Hour, Clock: mClock}
		done := make(chan RetryResult[int], 1)
		calls := 0
		go func() {
			done <- WithRetryContext(ctx, cfg, func(context.Context) (int, error) {
				calls++
				if calls == 1 {
					return 0, &HTTPError{StatusCode: 503}
				}
				return 7, nil
			})
		}()

		call := trap.MustWait(ctx)
		if call.Duration != time.Hour {
			t.Errorf("backoff = %s, want 1h", call.Duration)
		}
		call.MustRelease(ctx)
		mClock.Advance(time.Hour).MustWait(ctx)

		result := <-done
		if result.Err != nil || result.Value != 7 || result.Attempts != 2 {
			t.Errorf("unexpected result %+v", result)
		}
		if result.Duration != time.Hour {
			t.Errorf("Duration = %s, want 1h", result.Duration)
		}
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		result := WithRetryContext(ctx, fast, func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
		if calls != 0 || !errors.Is(result.Err, context.Canceled) {
			t.Errorf("calls = %d, err = %v", calls, result.Err)
		}
	})
}
