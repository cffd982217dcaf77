package collectortest

import (
	"net/http/httptest"
	"testing"
)

// Server is a Collector listening on a local httptest server.
type Server struct {
	*Collector

	// URL is the base URL to pass to transport.WithBaseURL.
	URL string
}

// NewServer starts a collector accepting apiKey. It is closed when the test
// finishes.
func NewServer(t testing.TB, apiKey string) *Server {
	t.Helper()

	c := New(apiKey)
	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	return &Server{Collector: c, URL: srv.URL}
}
