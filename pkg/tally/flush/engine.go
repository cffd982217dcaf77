// Package flush drains an event store in bounded batches and applies the
// three-way delivery outcome to each batch.
//
// At most one flush runs per engine. Concurrent requests from the periodic
// ticker, an explicit Flush or an auto-flush after Track coalesce into the
// flush already in progress.
package flush

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/observability"
	"github.com/randalmurphal/tally/pkg/tally/store"
	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// Engine delivers buffered events through a transport.
type Engine struct {
	store     store.Store
	transport transport.Transport
	cfg       config

	flushing atomic.Bool
	idleMu   sync.Mutex
	idle     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	ticker *ticker
	closed bool
}

type ticker struct {
	cancel context.CancelFunc
	waiter quartz.Waiter
}

// New creates an engine draining st through tr.
func New(st store.Store, tr transport.Transport, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     st,
		transport: tr,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// IsFlushing reports whether a flush is in progress.
func (e *Engine) IsFlushing() bool {
	return e.flushing.Load()
}

// Flush drains the store synchronously.
//
// If another flush is running, Flush returns a coalesced report at once.
// ctx is checked between batches only; a send that has started always runs
// to completion.
func (e *Engine) Flush(ctx context.Context) Report {
	rep, _ := e.flush(ctx)
	return rep
}

// flush runs one flush. When another flush holds the guard it returns a
// coalesced report together with a channel closed once that flush ends.
func (e *Engine) flush(ctx context.Context) (Report, <-chan struct{}) {
	// The flag and the idle channel change together under idleMu, so a
	// running flush always has a channel and only its own is closed.
	e.idleMu.Lock()
	if !e.flushing.CompareAndSwap(false, true) {
		inFlight := e.idle
		e.idleMu.Unlock()
		e.cfg.metrics.RecordFlush(ctx, true, 0)
		return Report{Coalesced: true}, inFlight
	}
	idle := make(chan struct{})
	e.idle = idle
	e.idleMu.Unlock()

	defer func() {
		e.idleMu.Lock()
		e.idle = nil
		e.flushing.Store(false)
		close(idle)
		e.idleMu.Unlock()
	}()

	return e.run(ctx), nil
}

// Drain is Flush without coalescing: if a flush is already running it waits
// for it to finish and then flushes whatever is left.
func (e *Engine) Drain(ctx context.Context) Report {
	for {
		rep, inFlight := e.flush(ctx)
		if !rep.Coalesced {
			return rep
		}
		if err := waitFor(ctx, inFlight); err != nil {
			return Report{Err: err, Retained: e.safeCount()}
		}
	}
}

func waitFor(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAsync drains the store on a background goroutine and then calls
// onComplete exactly once. A request that joins a running flush calls
// onComplete after that flush ends. onComplete may be nil.
func (e *Engine) FlushAsync(onComplete func(Report)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if onComplete != nil {
			onComplete(Report{Err: ErrEngineClosed, Retained: e.store.EventCount()})
		}
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		rep, inFlight := e.flush(e.ctx)
		if rep.Coalesced {
			// Report once the flush this request joined has finished.
			_ = waitFor(e.ctx, inFlight)
			rep.Retained = e.safeCount()
		}
		if onComplete != nil {
			onComplete(rep)
		}
	}()
}

// Start runs a flush every interval until Stop or Close.
// Calling Start again replaces the running ticker.
func (e *Engine) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.stopTickerLocked()

	ctx, cancel := context.WithCancel(e.ctx)
	waiter := e.cfg.clock.TickerFunc(ctx, interval, func() error {
		e.Flush(ctx)
		return nil
	}, "flush", "ticker")
	e.ticker = &ticker{cancel: cancel, waiter: waiter}
}

// Stop cancels the periodic ticker. Flushes already running finish their
// current batch.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickerLocked()
}

func (e *Engine) stopTickerLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.cancel()
	_ = e.ticker.waiter.Wait()
	e.ticker = nil
}

// Close stops the ticker, cancels background flushes and waits for them to
// return. It does not close the store or the transport.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopTickerLocked()
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// run is the flush loop. The caller holds the flushing flag.
func (e *Engine) run(ctx context.Context) (rep Report) {
	start := e.cfg.clock.Now()
	pending := e.store.EventCount()

	ctx, span := e.cfg.spans.StartFlushSpan(ctx, pending)
	observability.LogFlushStart(e.cfg.logger, pending)

	defer func() {
		if r := recover(); r != nil {
			rep.Err = &PanicError{Value: r, Stack: string(debug.Stack())}
			if e.cfg.logger != nil {
				e.cfg.logger.Error("flush panicked", "panic", r)
			}
		}
		rep.Retained = e.safeCount()
		rep.Duration = e.cfg.clock.Since(start)

		e.cfg.spans.EndSpanWithError(span, rep.Err)
		e.cfg.metrics.RecordFlush(ctx, false, rep.Duration)
		observability.LogFlushComplete(e.cfg.logger, rep.Batches, rep.Sent, rep.Dropped, rep.Retained,
			float64(rep.Duration.Microseconds())/1000)
	}()

	for e.store.EventCount() > 0 {
		if err := e.pause(ctx, rep.Batches > 0); err != nil {
			rep.Err = err
			return rep
		}

		batch, err := e.store.FetchEvents(e.cfg.maxBatchSize)
		if err != nil {
			rep.Err = err
			return rep
		}
		if len(batch) == 0 {
			return rep
		}

		res := e.send(ctx, batch)
		rep.Batches++

		switch res.Outcome {
		case transport.Success, transport.DropEvents:
			if err := e.remove(batch); err != nil {
				rep.Err = err
				return rep
			}
			if res.Outcome == transport.Success {
				rep.Sent += len(batch)
			} else {
				rep.Dropped += len(batch)
			}
		default:
			rep.Err = res.Err
			if rep.Err == nil {
				rep.Err = errors.New("delivery deferred")
			}
			return rep
		}
	}
	return rep
}

// pause waits the politeness delay before every batch but the first and
// reports ctx cancellation.
func (e *Engine) pause(ctx context.Context, delay bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !delay || e.cfg.batchDelay <= 0 {
		return nil
	}

	timer := e.cfg.clock.NewTimer(e.cfg.batchDelay, "flush", "delay")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// send delivers one batch. The send itself is shielded from ctx
// cancellation.
func (e *Engine) send(ctx context.Context, batch []event.Event) transport.SendResult {
	bctx, span := e.cfg.spans.StartBatchSpan(ctx, len(batch))
	start := e.cfg.clock.Now()

	res := e.transport.SendEvents(context.WithoutCancel(bctx), batch, e.cfg.contextBuilder())

	e.cfg.metrics.RecordBatch(ctx, res.Outcome.String(), len(batch), e.cfg.clock.Since(start))
	e.cfg.spans.EndSpanWithError(span, res.Err)
	observability.LogBatchResult(e.cfg.logger, len(batch), res.Outcome.String(), res.Err)

	result := BatchResult{Size: len(batch), Outcome: res.Outcome, Err: res.Err}
	for _, obs := range e.cfg.observers {
		obs(result)
	}
	return res
}

// remove deletes a delivered batch. A failed snapshot write is logged and
// ignored since the in-memory removal already happened.
func (e *Engine) remove(batch []event.Event) error {
	err := e.store.RemoveEvents(batch)
	if err == nil {
		return nil
	}
	var perr *store.PersistError
	if errors.As(err, &perr) {
		observability.LogPersistError(e.cfg.logger, "remove", err)
		return nil
	}
	return err
}

func (e *Engine) safeCount() (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	return e.store.EventCount()
}
