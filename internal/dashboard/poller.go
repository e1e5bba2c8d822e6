// Package dashboard keeps the dashboard cards, activity feed and analytics
// up to date by polling the footfall API.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
)

// API is the part of the footfall client the poller reads from.
type API interface {
	Dashboard(ctx context.Context, q footfall.Query) (footfall.DashboardStats, error)
	Events(ctx context.Context, limit int, q footfall.Query) ([]footfall.Event, error)
	Analytics(ctx context.Context, q footfall.Query) (footfall.Analytics, error)
}

type Config struct {
	RefreshInterval time.Duration
	RetryDelay      time.Duration
	PageSize        int
	PageStep        int
}

// DefaultConfig refreshes every minute, retries once after 5s and lists
// 50 events, growing by 100 per "load more".
func DefaultConfig() Config {
	return Config{
		RefreshInterval: time.Minute,
		RetryDelay:      5 * time.Second,
		PageSize:        50,
		PageStep:        100,
	}
}

// Snapshot is everything the dashboard view renders.
type Snapshot struct {
	Query       footfall.Query           `json:"query"`
	Stats       *footfall.DashboardStats `json:"stats"`
	Yesterday   *footfall.DashboardStats `json:"yesterday,omitempty"`
	Events      []footfall.Event         `json:"events"`
	HasMore     bool                     `json:"has_more"`
	Analytics   *footfall.Analytics      `json:"analytics"`
	Comparison  string                   `json:"comparison"`
	Error       string                   `json:"error,omitempty"`
	LastUpdated *time.Time               `json:"last_updated,omitempty"`
	Version     uint64                   `json:"version"`
}

// Poller refreshes a Snapshot on an interval and on demand.
type Poller struct {
	api     API
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics
	events  *StatusBroadcaster

	// refreshMu serialises refreshes.
	refreshMu sync.Mutex

	mu          sync.Mutex
	state       Snapshot
	query       footfall.Query
	customRange footfall.Query
	gen         uint64
	retry       *clock.Timer
	loadingMore bool
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool

	wg sync.WaitGroup
}

type Option func(*Poller)

func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func New(api API, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		api:     api,
		cfg:     cfg,
		clock:   clock.New(),
		metrics: metrics.New(),
		events:  NewStatusBroadcaster(),
		query:   footfall.Query{Filter: footfall.FilterToday},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state.Query = p.query
	p.state.Events = []footfall.Event{}
	return p
}

// Broadcaster returns the SSE fanout of state and live events.
func (p *Poller) Broadcaster() *StatusBroadcaster { return p.events }

// Start refreshes immediately and then every RefreshInterval.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	ticker := p.clock.Ticker(p.cfg.RefreshInterval)
	p.mu.Unlock()

	logger.Info("Dashboard", "Starting poller (interval=%v)", p.cfg.RefreshInterval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		_ = p.refresh(runCtx, false)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				_ = p.refresh(runCtx, false)
			}
		}
	}()
}

// Stop ends the refresh loop and any pending retry.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.events.Close()
}

// State returns the latest snapshot.
func (p *Poller) State() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Refresh reloads everything for the current filter.
func (p *Poller) Refresh(ctx context.Context) (Snapshot, error) {
	err := p.refresh(ctx, false)
	return p.State(), err
}

// SetFilter switches the filter and reloads immediately. A custom filter
// without dates reuses the last custom range; other filters drop dates.
func (p *Poller) SetFilter(ctx context.Context, q footfall.Query) (Snapshot, error) {
	f, err := footfall.ParseFilter(string(q.Filter))
	if err != nil {
		return p.State(), err
	}
	q.Filter = f

	p.mu.Lock()
	if f == footfall.FilterCustom {
		if q.StartDate == "" && q.EndDate == "" {
			q.StartDate, q.EndDate = p.customRange.StartDate, p.customRange.EndDate
		}
	} else {
		q.StartDate, q.EndDate = "", ""
	}
	if err := q.Validate(); err != nil {
		p.mu.Unlock()
		return p.State(), err
	}
	if f == footfall.FilterCustom {
		p.customRange = q
	}
	p.query = q
	p.gen++
	p.mu.Unlock()

	logger.Info("Dashboard", "Filter changed to %s %s %s", q.Filter, q.StartDate, q.EndDate)
	return p.Refresh(ctx)
}

type result struct {
	stats     footfall.DashboardStats
	yesterday *footfall.DashboardStats
	events    []footfall.Event
	overview  footfall.Analytics
	current   footfall.Analytics
}

func overviewQuery(q footfall.Query) footfall.Query {
	switch q.Filter {
	case footfall.FilterToday:
		return footfall.Query{Filter: footfall.FilterThisWeek}
	case footfall.FilterCustom:
		return q
	default:
		return footfall.Query{Filter: q.Filter}
	}
}

func (p *Poller) fetch(ctx context.Context, q footfall.Query) (result, error) {
	var r result
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		r.stats, err = p.api.Dashboard(ctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		r.events, err = p.api.Events(ctx, p.cfg.PageSize, q)
		return err
	})
	g.Go(func() error {
		var err error
		r.overview, err = p.api.Analytics(ctx, overviewQuery(q))
		return err
	})
	g.Go(func() error {
		var err error
		r.current, err = p.api.Analytics(ctx, q)
		return err
	})
	if q.Filter == footfall.FilterToday {
		g.Go(func() error {
			y, err := p.api.Dashboard(ctx, footfall.Query{Filter: footfall.FilterYesterday})
			if err != nil {
				return err
			}
			r.yesterday = &y
			return nil
		})
	}
	return r, g.Wait()
}

// CombineAnalytics keeps the overview series and takes the hourly analysis
// and customer breakdown from the current-filter analytics.
func CombineAnalytics(overview, current footfall.Analytics) footfall.Analytics {
	out := overview
	out.HourlyAnalysis = current.HourlyAnalysis
	out.CustomerBreakdown = current.CustomerBreakdown
	return out
}

// Comparison is the caption under the entries card.
func Comparison(filter footfall.Filter, entries int, yesterday *footfall.DashboardStats) string {
	if filter != footfall.FilterToday || yesterday == nil {
		if entries == 0 {
			return "No activity"
		}
		period := "selected period"
		switch filter {
		case footfall.FilterYesterday:
			period = "yesterday"
		case footfall.FilterThisWeek:
			period = "this week"
		case footfall.FilterThisMonth:
			period = "this month"
		}
		return fmt.Sprintf("%d %s", entries, period)
	}

	diff := entries - yesterday.Entries
	switch {
	case diff == 0:
		return "Same as yesterday"
	case diff > 0:
		return fmt.Sprintf("+%d vs yesterday", diff)
	default:
		return fmt.Sprintf("%d vs yesterday", diff)
	}
}

// refresh runs one load. A failed non-retry load records the error and
// schedules a single retry; a failed retry schedules nothing.
func (p *Poller) refresh(ctx context.Context, isRetry bool) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	q, gen := p.query, p.gen
	p.mu.Unlock()

	r, err := p.fetch(ctx, q)

	p.mu.Lock()
	if gen != p.gen {
		// Filter changed while loading; the newer refresh wins.
		p.mu.Unlock()
		return err
	}
	if err != nil {
		p.metrics.DashboardFailures.Add(1)
		if errors.Is(err, context.Canceled) {
			p.mu.Unlock()
			return err
		}
		if !isRetry {
			p.state.Error = err.Error()
			p.state.Version++
			p.scheduleRetryLocked()
			logger.Warn("Dashboard", "Refresh failed, retrying in %s: %v", p.cfg.RetryDelay, err)
		} else {
			logger.Warn("Dashboard", "Retry failed: %v", err)
		}
		st := p.state
		p.mu.Unlock()
		_ = p.events.Publish(EventState, st)
		return err
	}

	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	combined := CombineAnalytics(r.overview, r.current)
	now := p.clock.Now()
	stats := r.stats
	if r.events == nil {
		r.events = []footfall.Event{}
	}
	p.state = Snapshot{
		Query:       q,
		Stats:       &stats,
		Yesterday:   r.yesterday,
		Events:      r.events,
		HasMore:     len(r.events) >= p.cfg.PageSize,
		Analytics:   &combined,
		Comparison:  Comparison(q.Filter, stats.Entries, r.yesterday),
		LastUpdated: &now,
		Version:     p.state.Version + 1,
	}
	p.loadingMore = false
	p.metrics.DashboardRefreshes.Add(1)
	st := p.state
	p.mu.Unlock()

	logger.Debug("Dashboard", "Refreshed %s: entries=%d events=%d", q.Filter, stats.Entries, len(r.events))
	_ = p.events.Publish(EventState, st)
	return nil
}

func (p *Poller) scheduleRetryLocked() {
	if p.retry != nil {
		p.retry.Stop()
	}
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	p.retry = p.clock.AfterFunc(p.cfg.RetryDelay, func() {
		if ctx.Err() != nil {
			return
		}
		_ = p.refresh(ctx, true)
	})
}

// LoadMoreEvents grows the activity feed by PageStep events. It is a no-op
// while a load is in flight or when the feed is exhausted.
func (p *Poller) LoadMoreEvents(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if p.loadingMore || !p.state.HasMore {
		st := p.state
		p.mu.Unlock()
		return st, nil
	}
	p.loadingMore = true
	q, gen := p.query, p.gen
	limit := len(p.state.Events) + p.cfg.PageStep
	p.mu.Unlock()

	events, err := p.api.Events(ctx, limit, q)

	p.mu.Lock()
	p.loadingMore = false
	if err != nil {
		st := p.state
		p.mu.Unlock()
		logger.Warn("Dashboard", "Loading more events failed: %v", err)
		return st, err
	}
	if gen == p.gen {
		p.state.Events = events
		p.state.HasMore = len(events) >= limit
		p.state.Version++
	}
	st := p.state
	p.mu.Unlock()

	_ = p.events.Publish(EventState, st)
	return st, nil
}

// PushLiveEvent forwards a live event to SSE clients and refreshes.
func (p *Poller) PushLiveEvent(kind string, ev *footfall.Event) {
	p.metrics.LiveEvents.Add(1)
	if kind == EventNewEvent && ev != nil {
		_ = p.events.Publish(EventNewEvent, ev)
	}

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.refresh(ctx, false)
	}()
}
