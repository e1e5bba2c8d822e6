// Package stream tracks the live HLS stream: where it is and whether it
// is serving.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
)

// InfoSource returns the stream description.
type InfoSource interface {
	StreamInfo(ctx context.Context) (footfall.StreamInfo, error)
}

type Config struct {
	RetryDelay     time.Duration
	MaxRetries     int
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
}

// DefaultConfig retries stream-info every 3s up to 10 times and probes
// the playlist every 30s.
func DefaultConfig() Config {
	return Config{
		RetryDelay:     3 * time.Second,
		MaxRetries:     10,
		HealthInterval: 30 * time.Second,
		ProbeTimeout:   10 * time.Second,
	}
}

// Status is the monitor's view of the stream.
type Status struct {
	Info       *footfall.StreamInfo `json:"info,omitempty"`
	StreamURL  string               `json:"stream_url,omitempty"`
	Error      string               `json:"error,omitempty"`
	RetryCount int                  `json:"retry_count"`
	MaxRetries int                  `json:"max_retries"`
	Healthy    bool                 `json:"healthy"`
	ProbeError string               `json:"probe_error,omitempty"`
	LastProbe  *time.Time           `json:"last_probe,omitempty"`
}

type Monitor struct {
	src     InfoSource
	base    *url.URL
	http    *http.Client
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics

	mu      sync.Mutex
	status  Status
	retry   *clock.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(m *Monitor) { m.http = hc }
}

// New returns a monitor. baseURL resolves relative stream URLs.
func New(src InfoSource, baseURL string, cfg Config, opts ...Option) (*Monitor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	m := &Monitor{
		src:     src,
		base:    base,
		cfg:     cfg,
		clock:   clock.New(),
		metrics: metrics.New(),
		status:  Status{MaxRetries: cfg.MaxRetries},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.http == nil {
		m.http = &http.Client{Timeout: cfg.ProbeTimeout}
	}
	return m, nil
}

// Start loads stream info now and probes the playlist every HealthInterval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	ticker := m.clock.Ticker(m.cfg.HealthInterval)
	m.mu.Unlock()

	logger.Info("Stream", "Starting monitor (health interval=%v)", m.cfg.HealthInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		m.loadInfo(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.probe(runCtx)
			}
		}
	}()
}

// Stop ends the loop and cancels any pending retry.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Status returns the latest status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Refresh is the manual retry: the retry budget resets and stream info is
// loaded again.
func (m *Monitor) Refresh(ctx context.Context) Status {
	m.mu.Lock()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.status.RetryCount = 0
	m.mu.Unlock()

	m.loadInfo(ctx)
	return m.Status()
}

func (m *Monitor) loadInfo(ctx context.Context) {
	info, err := m.src.StreamInfo(ctx)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if err != nil {
		m.status.Error = err.Error()
		m.status.Healthy = false
		m.metrics.SetStreamHealthy(false)
		if m.status.RetryCount < m.cfg.MaxRetries {
			m.scheduleRetryLocked(ctx)
			logger.Warn("Stream", "Stream info failed (retry %d/%d in %s): %v",
				m.status.RetryCount+1, m.cfg.MaxRetries, m.cfg.RetryDelay, err)
		} else {
			logger.Error("Stream", "Stream info failed, giving up after %d retries: %v", m.status.RetryCount, err)
		}
		m.mu.Unlock()
		return
	}

	m.status.Info = &info
	m.status.StreamURL = m.resolve(info.StreamURL)
	m.status.Error = ""
	m.status.RetryCount = 0
	m.mu.Unlock()

	logger.Info("Stream", "Stream at %s (active=%v, %s @ %.0ffps)", info.StreamURL, info.StreamActive, info.Resolution, info.FPS)
	m.probe(ctx)
}

func (m *Monitor) scheduleRetryLocked(ctx context.Context) {
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = m.clock.AfterFunc(m.cfg.RetryDelay, func() {
		m.mu.Lock()
		m.retry = nil
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.status.RetryCount++
		m.mu.Unlock()
		m.loadInfo(ctx)
	})
}

func (m *Monitor) resolve(raw string) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return m.base.ResolveReference(ref).String()
}

// probe fetches the stream URL. A playlist must answer 2xx and start with
// #EXTM3U; other URLs only need a 2xx.
func (m *Monitor) probe(ctx context.Context) {
	m.mu.Lock()
	target := m.status.StreamURL
	m.mu.Unlock()
	if target == "" {
		return
	}

	err := m.check(ctx, target)
	if ctx.Err() != nil {
		return
	}
	now := m.clock.Now()

	m.mu.Lock()
	m.status.LastProbe = &now
	m.status.Healthy = err == nil
	m.status.ProbeError = ""
	if err != nil {
		m.status.ProbeError = err.Error()
	}
	m.mu.Unlock()

	m.metrics.SetStreamHealthy(err == nil)
	if err != nil {
		logger.Warn("Stream", "Health probe failed: %v", err)
	} else {
		logger.Debug("Stream", "Health probe ok")
	}
}

func (m *Monitor) check(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}
	u, _ := url.Parse(target)
	if u == nil || !strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
		return nil
	}

	head, err := bufio.NewReader(io.LimitReader(resp.Body, 512)).Peek(10)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read playlist: %w", err)
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(head, []byte("#EXTM3U")) {
		return fmt.Errorf("not an HLS playlist")
	}
	return nil
}
