package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dj-oyu/footfall-dashboard/internal/canvas"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
	"github.com/dj-oyu/footfall-dashboard/internal/snapshot"
	"github.com/dj-oyu/footfall-dashboard/internal/store"
)

var ErrSessionNotFound = errors.New("editor session not found")

// RevisionRecorder keeps a history of saved configs.
type RevisionRecorder interface {
	RecordRevision(ctx context.Context, sessionID string, cfg roi.Config, savedAt time.Time) (store.Revision, error)
}

// SavePublisher announces saved configs to other services.
type SavePublisher interface {
	PublishROISaved(sessionID string, cfg roi.Config, savedAt time.Time) error
}

// Options tunes every session a Manager opens.
type Options struct {
	Snapshot    snapshot.Config
	IdleTimeout time.Duration
	JPEGQuality int
	Style       canvas.Style
}

// DefaultOptions mirrors the browser editor: 3s snapshots, 2s retry.
func DefaultOptions() Options {
	return Options{
		Snapshot:    snapshot.DefaultConfig(),
		IdleTimeout: 10 * time.Minute,
		JPEGQuality: 80,
		Style:       canvas.DefaultStyle(),
	}
}

// Manager owns the open editor sessions.
type Manager struct {
	gw       Gateway
	opts     Options
	renderer *canvas.Renderer
	clock    clock.Clock
	metrics  *metrics.Metrics
	recorder RevisionRecorder
	notify   SavePublisher

	mu       sync.Mutex
	sessions map[string]*Session
	stop     chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithRecorder stores a revision for every successful save.
func WithRecorder(r RevisionRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithPublisher announces every successful save.
func WithPublisher(p SavePublisher) ManagerOption {
	return func(m *Manager) { m.notify = p }
}

func NewManager(gw Gateway, opts Options, extra ...ManagerOption) *Manager {
	m := &Manager{
		gw:       gw,
		opts:     opts,
		clock:    clock.New(),
		metrics:  metrics.New(),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	for _, opt := range extra {
		opt(m)
	}
	m.renderer = canvas.NewRenderer(opts.Style)
	return m
}

// Open creates a session, starts its snapshot refresher and begins loading
// the persisted config. The session outlives ctx's cancellation.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	s := newSession(sessionParams{
		id:        id,
		gw:        m.gw,
		renderer:  m.renderer,
		snapshot:  m.opts.Snapshot,
		clock:     m.clock,
		metrics:   m.metrics,
		quality:   m.opts.JPEGQuality,
		onSaved:   m.saved,
		parentCtx: context.WithoutCancel(ctx),
	})
	m.sessions[id] = s
	m.metrics.ActiveSessions.Add(1)
	m.mu.Unlock()

	s.start()
	logger.Info("Editor", "Session %s opened", id)
	return s, nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close tears down one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.metrics.ActiveSessions.Add(-1)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	logger.Info("Editor", "Session %s closed", id)
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) saved(s *Session, cfg roi.Config, at time.Time) {
	if m.recorder != nil {
		if _, err := m.recorder.RecordRevision(context.Background(), s.ID(), cfg, at); err != nil {
			logger.Warn("Editor", "Session %s: recording revision failed: %v", s.ID(), err)
		}
	}
	if m.notify != nil {
		if err := m.notify.PublishROISaved(s.ID(), cfg, at); err != nil {
			logger.Warn("Editor", "Session %s: publishing save failed: %v", s.ID(), err)
		}
	}
}

// StartJanitor closes sessions idle for longer than the idle timeout.
// Sessions with streaming or attached clients are never idle.
func (m *Manager) StartJanitor() {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	interval := m.opts.IdleTimeout / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := m.clock.Ticker(interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	now := m.clock.Now()
	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		last, streaming := s.idleSince()
		if !streaming && now.Sub(last) > m.opts.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		logger.Info("Editor", "Session %s idle, closing", id)
		_ = m.Close(id)
	}
}

// Shutdown stops the janitor and closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stop)
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	for _, id := range ids {
		_ = m.Close(id)
	}
}
