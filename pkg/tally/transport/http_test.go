package transport_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/tally/pkg/tally/collectortest"
	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/transport"
)

const testKey = "test-key"

var now = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

func newTransport(t *testing.T, srv *collectortest.Server, opts ...transport.Option) *transport.HTTPTransport {
	t.Helper()
	opts = append([]transport.Option{transport.WithBaseURL(srv.URL)}, opts...)
	tr, err := transport.NewHTTP(testKey, opts...)
	require.NoError(t, err)
	return tr
}

func smallBatch(n int) []event.Event {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.New("tap", nil, "user", "", now)
	}
	return events
}

func TestNewHTTP_Validation(t *testing.T) {
	_, err := transport.NewHTTP("   ")
	assert.ErrorIs(t, err, transport.ErrBlankAPIKey)

	for _, raw := range []string{"ftp://example.com", "not a url", "http://", "://missing"} {
		_, err := transport.NewHTTP("key", transport.WithBaseURL(raw))
		assert.ErrorIs(t, err, transport.ErrInvalidBaseURL, raw)
	}

	_, err = transport.NewHTTP("key", transport.WithBaseURL("https://collector.example.com/"))
	assert.NoError(t, err)
}

func TestSendEvents_StatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		outcome transport.Outcome
		kind    tallyerrors.Kind
	}{
		{http.StatusNoContent, transport.Success, ""},
		{http.StatusBadRequest, transport.DropEvents, tallyerrors.KindBadRequest},
		{http.StatusUnauthorized, transport.DropEvents, tallyerrors.KindUnauthorized},
		{http.StatusForbidden, transport.DropEvents, tallyerrors.KindForbidden},
		{http.StatusTooManyRequests, transport.RetryLater, tallyerrors.KindRateLimited},
		{http.StatusInternalServerError, transport.RetryLater, tallyerrors.KindServerError},
		{http.StatusServiceUnavailable, transport.RetryLater, tallyerrors.KindServerError},
		{599, transport.RetryLater, tallyerrors.KindServerError},
		{http.StatusOK, transport.RetryLater, tallyerrors.KindUnexpectedStatus},
		{http.StatusNotFound, transport.RetryLater, tallyerrors.KindUnexpectedStatus},
		{http.StatusConflict, transport.RetryLater, tallyerrors.KindUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := collectortest.NewServer(t, testKey)
			srv.Enqueue(collectortest.Response{Status: tt.status})
			tr := newTransport(t, srv)

			res := tr.SendEvents(context.Background(), smallBatch(2), event.Context{})
			assert.Equal(t, tt.outcome, res.Outcome)

			if tt.outcome == transport.Success {
				assert.NoError(t, res.Err)
				assert.Len(t, srv.Events(), 2)
				return
			}
			var httpErr *tallyerrors.HTTPError
			require.ErrorAs(t, res.Err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.kind, httpErr.Kind())
		})
	}
}

func TestSendEvents_WrongKeyIsDropped(t *testing.T) {
	srv := collectortest.NewServer(t, "other-key")
	tr := newTransport(t, srv)

	res := tr.SendEvents(context.Background(), smallBatch(1), event.Context{})
	assert.Equal(t, transport.DropEvents, res.Outcome)
}

func TestSendEvents_Payload(t *testing.T) {
	srv := collectortest.NewServer(t, testKey)
	tr := newTransport(t, srv)

	events := []event.Event{event.New("purchase", map[string]any{"amount": 3.5}, "user-1", "sess-1", now)}
	ectx := event.Context{Platform: "linux", SDK: transport.SDKName, UserID: "user-1", Environment: "staging"}

	res := tr.SendEvents(context.Background(), events, ectx)
	require.Equal(t, transport.Success, res.Outcome)

	batches := srv.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, ectx, batches[0].Context)
	require.Len(t, batches[0].Events, 1)
	got := batches[0].Events[0]
	assert.Equal(t, events[0].ClientEventID, got.ClientEventID)
	assert.Equal(t, json.Number("3.5"), got.Properties["amount"])

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].Compressed)
	assert.Equal(t, transport.SDKName+"/"+transport.SDKVersion, reqs[0].UserAgent)
}

func TestSendEvents_GzipAboveThreshold(t *testing.T) {
	srv := collectortest.NewServer(t, testKey)
	tr := newTransport(t, srv)

	events := make([]event.Event, 20)
	for i := range events {
		events[i] = event.New("bulk", map[string]any{"pad": strings.Repeat("x", 100)}, "", "", now)
	}

	res := tr.SendEvents(context.Background(), events, event.Context{})
	require.Equal(t, transport.Success, res.Outcome)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Compressed)
	assert.Len(t, srv.Events(), 20)
}

func TestSendEvents_RateLimitDeadline(t *testing.T) {
	mClock := quartz.NewMock(t)
	srv := collectortest.NewServer(t, testKey)
	srv.Enqueue(collectortest.Response{Status: http.StatusTooManyRequests, RetryAfter: "30"})
	tr := newTransport(t, srv, transport.WithClock(mClock))
	ctx := context.Background()

	res := tr.SendEvents(ctx, smallBatch(1), event.Context{})
	require.Equal(t, transport.RetryLater, res.Outcome)
	var httpErr *tallyerrors.HTTPError
	require.ErrorAs(t, res.Err, &httpErr)
	assert.Equal(t, 30*time.Second, httpErr.RetryAfter)
	assert.Equal(t, mClock.Now().Add(30*time.Second), tr.RetryAfterUntil())

	// Within the window no request reaches the collector.
	mClock.Advance(10 * time.Second)
	res = tr.SendEvents(ctx, smallBatch(1), event.Context{})
	assert.Equal(t, transport.RetryLater, res.Outcome)
	require.ErrorAs(t, res.Err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Len(t, srv.Requests(), 1)

	// After the deadline sends resume.
	mClock.Advance(20 * time.Second)
	res = tr.SendEvents(ctx, smallBatch(1), event.Context{})
	assert.Equal(t, transport.Success, res.Outcome)
	assert.Len(t, srv.Requests(), 2)
	assert.True(t, tr.RetryAfterUntil().IsZero())
}

func TestSendEvents_RetryAfterHTTPDate(t *testing.T) {
	mClock := quartz.NewMock(t)
	mClock.Set(now)
	srv := collectortest.NewServer(t, testKey)
	srv.Enqueue(collectortest.Response{
		Status:     http.StatusTooManyRequests,
		RetryAfter: now.Add(2 * time.Minute).Format(http.TimeFormat),
	})
	tr := newTransport(t, srv, transport.WithClock(mClock))

	res := tr.SendEvents(context.Background(), smallBatch(1), event.Context{})
	require.Equal(t, transport.RetryLater, res.Outcome)
	assert.Equal(t, now.Add(2*time.Minute), tr.RetryAfterUntil())
}

func TestSendEvents_429WithoutHint(t *testing.T) {
	srv := collectortest.NewServer(t, testKey)
	srv.Enqueue(collectortest.Response{Status: http.StatusTooManyRequests})
	tr := newTransport(t, srv)

	res := tr.SendEvents(context.Background(), smallBatch(1), event.Context{})
	assert.Equal(t, transport.RetryLater, res.Outcome)
	assert.True(t, tr.RetryAfterUntil().IsZero())

	res = tr.SendEvents(context.Background(), smallBatch(1), event.Context{})
	assert.Equal(t, transport.Success, res.Outcome)
}

func TestSendEvents_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := transport.NewHTTP(testKey, transport.WithBaseURL(url))
	require.NoError(t, err)

	res := tr.SendEvents(context.Background(), smallBatch(1), event.Context{})
	assert.Equal(t, transport.RetryLater, res.Outcome)
	var netErr *tallyerrors.NetworkError
	assert.ErrorAs(t, res.Err, &netErr)
}

func TestSendEvents_EncodingError(t *testing.T) {
	srv := collectortest.NewServer(t, testKey)
	tr := newTransport(t, srv)

	bad := event.New("bad", nil, "", "", now)
	bad.Properties = map[string]any{"ch": make(chan int)}

	res := tr.SendEvents(context.Background(), []event.Event{bad}, event.Context{})
	assert.Equal(t, transport.DropEvents, res.Outcome)
	var encErr *tallyerrors.EncodingError
	assert.ErrorAs(t, res.Err, &encErr)
	assert.Empty(t, srv.Requests())
}

func TestFetchExperiments(t *testing.T) {
	srv := collectortest.NewServer(t, testKey)
	srv.SetVariants("user-1", map[string]string{"checkout": "b", "onboarding": "control"})
	tr := newTransport(t, srv)
	ctx := context.Background()

	got, err := tr.FetchExperiments(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"checkout": "b", "onboarding": "control"}, got)

	empty, err := tr.FetchExperiments(ctx, "user 2/&x")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	assert.Equal(t, []string{"user-1", "user 2/&x"}, srv.ExperimentRequests())
}

func TestFetchExperiments_Failures(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		srv := collectortest.NewServer(t, "other")
		tr := newTransport(t, srv)

		_, err := tr.FetchExperiments(context.Background(), "u")
		var httpErr *tallyerrors.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, tallyerrors.KindUnauthorized, httpErr.Kind())
	})

	t.Run("unexpected status", func(t *testing.T) {
		srv := collectortest.NewServer(t, testKey)
		srv.SetExperimentsStatus(http.StatusBadGateway)
		tr := newTransport(t, srv)

		_, err := tr.FetchExperiments(context.Background(), "u")
		var httpErr *tallyerrors.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := collectortest.NewServer(t, testKey)
		srv.SetExperimentsBody(`{"assigned_variants": [1, 2]}`)
		tr := newTransport(t, srv)

		_, err := tr.FetchExperiments(context.Background(), "u")
		var encErr *tallyerrors.EncodingError
		assert.ErrorAs(t, err, &encErr)
	})

	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		tr, err := transport.NewHTTP(testKey, transport.WithBaseURL(url))
		require.NoError(t, err)

		_, err = tr.FetchExperiments(context.Background(), "u")
		var netErr *tallyerrors.NetworkError
		assert.ErrorAs(t, err, &netErr)
	})
}

func TestResultFromError(t *testing.T) {
	assert.Equal(t, transport.Success, transport.ResultFromError(nil).Outcome)
	assert.Equal(t, transport.DropEvents, transport.ResultFromError(&tallyerrors.EncodingError{Op: "x"}).Outcome)
	assert.Equal(t, transport.RetryLater, transport.ResultFromError(&tallyerrors.NetworkError{Op: "x"}).Outcome)
	assert.Equal(t, transport.RetryLater, transport.ResultFromError(fmt.Errorf("mystery")).Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", transport.Success.String())
	assert.Equal(t, "drop", transport.DropEvents.String())
	assert.Equal(t, "retry", transport.RetryLater.String())
}
