// Package collectortest provides an in-process fake of the collector API for
// tests and local development.
//
// The fake accepts POST /v1/events and GET /v1/experiments, authenticates
// with the X-API-Key header, inflates gzip request bodies and records what it
// receives. Responses to event batches can be scripted per request.
package collectortest

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// Response scripts the answer to one event batch.
type Response struct {
	Status int

	// RetryAfter is copied verbatim into the Retry-After header when set.
	RetryAfter string
}

// Request describes one received event request.
type Request struct {
	Status     int
	Compressed bool
	UserAgent  string
	Events     int
}

// Collector is the fake collector state. It is safe for concurrent use.
type Collector struct {
	apiKey string
	engine *gin.Engine

	mu            sync.Mutex
	script        []Response
	defaultStatus int
	batches       []event.Batch
	requests      []Request
	variants      map[string]map[string]string
	expStatus     int
	expRaw        string
	expRequests   []string
}

// New creates a collector that accepts apiKey.
func New(apiKey string) *Collector {
	gin.SetMode(gin.ReleaseMode)

	c := &Collector{
		apiKey:        apiKey,
		defaultStatus: http.StatusNoContent,
		variants:      make(map[string]map[string]string),
		expStatus:     http.StatusOK,
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(c.requireAPIKey)
	v1.POST("/events", c.handleEvents)
	v1.GET("/experiments", c.handleExperiments)

	c.engine = r
	return c
}

// Handler returns the HTTP handler serving the collector API.
func (c *Collector) Handler() http.Handler {
	return c.engine
}

func (c *Collector) requireAPIKey(ctx *gin.Context) {
	if strings.TrimSpace(ctx.GetHeader(transport.HeaderAPIKey)) != c.apiKey {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx.Next()
}

func (c *Collector) handleEvents(ctx *gin.Context) {
	compressed := strings.EqualFold(ctx.GetHeader("Content-Encoding"), "gzip")
	if compressed {
		zr, err := gzip.NewReader(ctx.Request.Body)
		if err != nil {
			c.record(Request{Status: http.StatusBadRequest, Compressed: true, UserAgent: ctx.Request.UserAgent()}, nil)
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid gzip body"})
			return
		}
		defer zr.Close()
		ctx.Request.Body = io.NopCloser(zr)
	}

	var batch event.Batch
	if err := ctx.ShouldBindJSON(&batch); err != nil {
		c.record(Request{Status: http.StatusBadRequest, Compressed: compressed, UserAgent: ctx.Request.UserAgent()}, nil)
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	resp := c.next()
	req := Request{
		Status:     resp.Status,
		Compressed: compressed,
		UserAgent:  ctx.Request.UserAgent(),
		Events:     len(batch.Events),
	}
	if resp.Status == http.StatusNoContent {
		c.record(req, &batch)
		ctx.Status(http.StatusNoContent)
		return
	}

	c.record(req, nil)
	if resp.RetryAfter != "" {
		ctx.Header("Retry-After", resp.RetryAfter)
	}
	ctx.JSON(resp.Status, gin.H{"error": http.StatusText(resp.Status)})
}

func (c *Collector) handleExperiments(ctx *gin.Context) {
	userID := ctx.Query("user_id")

	c.mu.Lock()
	c.expRequests = append(c.expRequests, userID)
	status := c.expStatus
	raw := c.expRaw
	assigned := make(map[string]string, len(c.variants[userID]))
	for k, v := range c.variants[userID] {
		assigned[k] = v
	}
	c.mu.Unlock()

	switch {
	case status != http.StatusOK:
		ctx.JSON(status, gin.H{"error": http.StatusText(status)})
	case raw != "":
		ctx.Data(http.StatusOK, "application/json", []byte(raw))
	default:
		ctx.JSON(http.StatusOK, gin.H{"assigned_variants": assigned})
	}
}

func (c *Collector) next() Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.script) == 0 {
		return Response{Status: c.defaultStatus}
	}
	resp := c.script[0]
	c.script = c.script[1:]
	return resp
}

func (c *Collector) record(req Request, batch *event.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if batch != nil {
		c.batches = append(c.batches, *batch)
	}
}

// Enqueue scripts the responses to the next event requests, in order.
// Once the script is exhausted the default status applies.
func (c *Collector) Enqueue(responses ...Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, responses...)
}

// SetDefaultStatus sets the status for unscripted event requests.
func (c *Collector) SetDefaultStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultStatus = status
}

// SetVariants sets the assignments served to userID.
func (c *Collector) SetVariants(userID string, variants map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[userID] = variants
}

// SetExperimentsStatus makes the experiments endpoint fail with status.
// http.StatusOK restores normal behaviour.
func (c *Collector) SetExperimentsStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expStatus = status
}

// SetExperimentsBody makes the experiments endpoint return raw verbatim.
// An empty string restores normal behaviour.
func (c *Collector) SetExperimentsBody(raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expRaw = raw
}

// Batches returns the accepted batches.
func (c *Collector) Batches() []event.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Batch(nil), c.batches...)
}

// Events returns every accepted event in arrival order.
func (c *Collector) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []event.Event
	for _, b := range c.batches {
		out = append(out, b.Events...)
	}
	return out
}

// Requests returns every event request received, accepted or not.
func (c *Collector) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// ExperimentRequests returns the user ids of experiment fetches, in order.
func (c *Collector) ExperimentRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.expRequests...)
}
