// Package snapshot keeps the ROI editor background image fresh.
package snapshot

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
)

// Fetcher loads one camera still. at is used as a cache buster.
type Fetcher interface {
	Snapshot(ctx context.Context, at time.Time) (image.Image, error)
}

// Update is delivered after every load attempt.
type Update struct {
	Image  image.Image // nil when nothing has loaded yet
	Loaded bool
	Err    error
	Retry  bool // the attempt was the scheduled retry
}

// Config controls the refresh cadence.
type Config struct {
	Interval   time.Duration
	RetryDelay time.Duration
}

// DefaultConfig polls every 3s and retries a failed load once after 2s.
func DefaultConfig() Config {
	return Config{Interval: 3 * time.Second, RetryDelay: 2 * time.Second}
}

// Refresher polls a Fetcher on a fixed interval. A failed load schedules
// exactly one retry; a failed retry schedules nothing and the next tick
// tries again. The interval schedule is never shifted by retries.
type Refresher struct {
	fetch    Fetcher
	clock    clock.Clock
	cfg      Config
	onUpdate func(Update)
	metrics  *metrics.Metrics

	// loadMu serialises loads so ticks and retries never overlap.
	loadMu sync.Mutex

	mu      sync.Mutex
	img     image.Image
	loaded  bool
	lastErr error
	retry   *clock.Timer
	ticker  *clock.Ticker
	cancel  context.CancelFunc
	ctx     context.Context
	started bool
	stopped bool

	wg sync.WaitGroup
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Refresher) { r.clock = c }
}

// WithMetrics counts loads and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) { r.metrics = m }
}

// OnUpdate registers the callback run after each attempt. It runs on the
// refresher's goroutines and must not call Stop.
func OnUpdate(fn func(Update)) Option {
	return func(r *Refresher) { r.onUpdate = fn }
}

func New(fetch Fetcher, cfg Config, opts ...Option) *Refresher {
	r := &Refresher{
		fetch: fetch,
		clock: clock.New(),
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start loads immediately and then every interval until Stop or ctx ends.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.ticker = r.clock.Ticker(r.cfg.Interval)
	ticker, runCtx := r.ticker, r.ctx
	// Add under mu so a concurrent Stop never waits on a zero group.
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.load(runCtx, false)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.load(runCtx, false)
			}
		}
	}()
}

// Stop cancels pending loads and the retry timer and waits for the loop.
// No update is delivered once Stop returns.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.cancel()
	r.ticker.Stop()
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
	// A retry callback may still be inside load; wait for it to bail out.
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
}

// Refresh triggers an out-of-band load, e.g. when the editor reloads.
func (r *Refresher) Refresh() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.load(ctx, false)
	}()
}

// Image returns the latest image and whether the last attempt succeeded.
func (r *Refresher) Image() (image.Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img, r.loaded
}

// LastError returns the error of the last attempt, nil after a success.
func (r *Refresher) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Refresher) load(ctx context.Context, isRetry bool) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	img, err := r.fetch.Snapshot(ctx, r.clock.Now())

	r.mu.Lock()
	if r.stopped || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	if err == nil {
		r.img = img
		r.loaded = true
		r.lastErr = nil
		if r.metrics != nil {
			r.metrics.SnapshotLoads.Add(1)
		}
	} else {
		r.loaded = false
		r.lastErr = err
		if r.metrics != nil {
			r.metrics.SnapshotFailures.Add(1)
		}
		if !isRetry {
			r.scheduleRetryLocked(ctx)
		}
	}
	u := Update{Image: r.img, Loaded: r.loaded, Err: err, Retry: isRetry}
	r.mu.Unlock()

	if err != nil {
		if isRetry {
			logger.Warn("Snapshot", "Retry failed: %v", err)
		} else {
			logger.Warn("Snapshot", "Load failed, retrying in %s: %v", r.cfg.RetryDelay, err)
		}
	}
	if r.onUpdate != nil {
		r.onUpdate(u)
	}
}

func (r *Refresher) scheduleRetryLocked(ctx context.Context) {
	if r.retry != nil {
		r.retry.Stop()
	}
	r.retry = r.clock.AfterFunc(r.cfg.RetryDelay, func() {
		r.load(ctx, true)
	})
}
