// Package editor hosts ROI editor sessions: one per open editor view, each
// owning its shape config, pointer interaction, canvas size, snapshot
// refresher and frame fanout.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/footfall-dashboard/internal/canvas"
	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
	"github.com/dj-oyu/footfall-dashboard/internal/snapshot"
)

var (
	ErrNotReady      = errors.New("editor is not ready")
	ErrClosed        = errors.New("editor session closed")
	ErrInvalidCanvas = errors.New("canvas size must be positive")
	ErrNoFrame       = errors.New("no frame rendered yet")
)

// Status is the load state of a session.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Gateway is the remote side of the editor: config persistence plus the
// camera snapshot.
type Gateway interface {
	snapshot.Fetcher
	ROIConfig(ctx context.Context) (footfall.ROIDocument, error)
	SaveROIConfig(ctx context.Context, doc footfall.ROIDocument) error
}

// State is a point-in-time view of a session.
type State struct {
	ID             string               `json:"id"`
	Status         Status               `json:"status"`
	Error          string               `json:"error,omitempty"`
	Warning        string               `json:"warning,omitempty"`
	SaveError      string               `json:"save_error,omitempty"`
	Mode           roi.DrawingMode      `json:"mode"`
	Interaction    string               `json:"interaction"`
	Canvas         roi.Rect             `json:"canvas"`
	Config         footfall.ROIDocument `json:"config"`
	Unsaved        bool                 `json:"unsaved"`
	SnapshotLoaded bool                 `json:"snapshot_loaded"`
	SavedAt        *time.Time           `json:"saved_at,omitempty"`
	Version        uint64               `json:"version"`
}

// Session is one open ROI editor. All mutations are serialised by mu, so
// pointer events apply strictly in arrival order.
type Session struct {
	id        string
	gw        Gateway
	renderer  *canvas.Renderer
	refresher *snapshot.Refresher
	frames    *FrameBroadcaster
	clock     clock.Clock
	metrics   *metrics.Metrics
	quality   int
	onSaved   func(s *Session, cfg roi.Config, at time.Time)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	status      Status
	errMsg      string
	warning     string
	saveErr     string
	cfg         roi.Config
	videoWidth  *int
	videoHeight *int
	inter       roi.Interaction
	rect        roi.Rect
	unsaved     bool
	savedAt     time.Time
	version     uint64
	lastActive  time.Time
	background  image.Image
	bgLoaded    bool
	frame       image.Image
	loadSeq     uint64
	attached    int
	closed      bool
}

type sessionParams struct {
	id        string
	gw        Gateway
	renderer  *canvas.Renderer
	snapshot  snapshot.Config
	clock     clock.Clock
	metrics   *metrics.Metrics
	quality   int
	onSaved   func(s *Session, cfg roi.Config, at time.Time)
	parentCtx context.Context
}

func newSession(p sessionParams) *Session {
	ctx, cancel := context.WithCancel(p.parentCtx)
	s := &Session{
		id:         p.id,
		gw:         p.gw,
		renderer:   p.renderer,
		frames:     NewFrameBroadcaster("roi-" + shortID(p.id)),
		clock:      p.clock,
		metrics:    p.metrics,
		quality:    p.quality,
		onSaved:    p.onSaved,
		ctx:        ctx,
		cancel:     cancel,
		status:     StatusLoading,
		inter:      roi.NewInteraction(roi.ModeNone),
		rect:       roi.ProcessingRect,
		lastActive: p.clock.Now(),
	}
	s.refresher = snapshot.New(p.gw, p.snapshot,
		snapshot.WithClock(p.clock),
		snapshot.WithMetrics(p.metrics),
		snapshot.OnUpdate(s.onSnapshot),
	)
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Session) start() {
	s.refresher.Start(s.ctx)
	s.mu.Lock()
	seq := s.beginLoadLocked()
	s.redrawLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.load(seq)
	}()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Frames returns the fanout of JPEG frames for streaming clients.
func (s *Session) Frames() *FrameBroadcaster { return s.frames }

func (s *Session) beginLoadLocked() uint64 {
	s.loadSeq++
	s.status = StatusLoading
	s.errMsg = ""
	s.warning = ""
	return s.loadSeq
}

// load fetches the persisted config and applies it unless a newer load
// started or the session closed meanwhile.
func (s *Session) load(seq uint64) error {
	doc, err := s.gw.ROIConfig(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq != s.loadSeq {
		return ErrClosed
	}

	s.cfg = roi.Config{}
	s.videoWidth, s.videoHeight = nil, nil
	s.unsaved = false
	s.inter = roi.NewInteraction(s.inter.Mode())

	switch {
	case err == nil:
		s.cfg = doc.Config
		s.videoWidth, s.videoHeight = doc.VideoWidth, doc.VideoHeight
		s.status = StatusReady
		logger.Info("Editor", "Session %s loaded config (line=%d, polygon=%d)", s.id, s.cfg.LineLen(), s.cfg.PolygonLen())
	case errors.Is(err, footfall.ErrNotFound), errors.Is(err, footfall.ErrMalformed):
		s.status = StatusReady
		s.warning = fmt.Sprintf("stored configuration unusable, starting empty: %v", err)
		logger.Warn("Editor", "Session %s: %s", s.id, s.warning)
		err = nil
	default:
		s.status = StatusError
		s.errMsg = fmt.Sprintf("failed to load ROI configuration: %v", err)
		logger.Error("Editor", "Session %s: %s", s.id, s.errMsg)
	}
	s.redrawLocked()
	return err
}

// Reload discards local edits and loads the persisted config again. It is
// the manual retry after a failed load.
func (s *Session) Reload() (State, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, ErrClosed
	}
	s.touchLocked()
	seq := s.beginLoadLocked()
	s.mu.Unlock()

	s.refresher.Refresh()
	err := s.load(seq)
	return s.State(), err
}

func (s *Session) onSnapshot(u snapshot.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	wasLoaded := s.bgLoaded
	s.bgLoaded = u.Loaded
	if u.Loaded {
		s.background = u.Image
	} else if !wasLoaded {
		return
	}
	s.redrawLocked()
}

// mutate applies fn to the config under the session lock. fn reports
// whether the config changed.
func (s *Session) mutate(fn func() (roi.Config, bool, error)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrClosed
	}
	s.touchLocked()
	if s.status != StatusReady {
		return s.stateLocked(), ErrNotReady
	}
	next, changed, err := fn()
	if err != nil {
		return s.stateLocked(), err
	}
	if changed {
		s.cfg = next
		s.unsaved = true
		s.redrawLocked()
	}
	return s.stateLocked(), nil
}

func (s *Session) pointer(step func() (roi.Interaction, roi.Config, bool)) (State, error) {
	if s.metrics != nil {
		s.metrics.PointerEvents.Add(1)
	}
	return s.mutate(func() (roi.Config, bool, error) {
		in, cfg, changed := step()
		s.inter = in
		return cfg, changed, nil
	})
}

// PointerDown starts a drag on a hit handle or places a point per mode.
func (s *Session) PointerDown(pos roi.CanvasPoint) (State, error) {
	return s.pointer(func() (roi.Interaction, roi.Config, bool) {
		return s.inter.PointerDown(s.cfg, pos, s.rect)
	})
}

// PointerMove moves the dragged handle, if any.
func (s *Session) PointerMove(pos roi.CanvasPoint) (State, error) {
	return s.pointer(func() (roi.Interaction, roi.Config, bool) {
		return s.inter.PointerMove(s.cfg, pos, s.rect)
	})
}

// PointerUp ends any drag.
func (s *Session) PointerUp() (State, error) {
	return s.pointer(func() (roi.Interaction, roi.Config, bool) {
		return s.inter.PointerUp(), s.cfg, false
	})
}

// PointerLeave ends any drag, like PointerUp.
func (s *Session) PointerLeave() (State, error) {
	return s.pointer(func() (roi.Interaction, roi.Config, bool) {
		return s.inter.PointerLeave(), s.cfg, false
	})
}

// SetMode switches the drawing mode. Allowed in any status.
func (s *Session) SetMode(mode roi.DrawingMode) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrClosed
	}
	s.touchLocked()
	s.inter = s.inter.WithMode(mode)
	return s.stateLocked(), nil
}

// SetCanvasSize records the rendered canvas size; frames are drawn at it.
func (s *Session) SetCanvasSize(rect roi.Rect) (State, error) {
	if !rect.Valid() {
		return State{}, ErrInvalidCanvas
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrClosed
	}
	s.touchLocked()
	if rect != s.rect {
		s.rect = rect
		s.redrawLocked()
	}
	return s.stateLocked(), nil
}

func (s *Session) ClearLine() (State, error) {
	return s.mutate(func() (roi.Config, bool, error) {
		return s.cfg.ClearLine(), s.cfg.LineLen() > 0, nil
	})
}

func (s *Session) ClearPolygon() (State, error) {
	return s.mutate(func() (roi.Config, bool, error) {
		return s.cfg.ClearPolygon(), s.cfg.PolygonLen() > 0, nil
	})
}

// Reset replaces the config with the default line and area.
func (s *Session) Reset() (State, error) {
	return s.mutate(func() (roi.Config, bool, error) {
		def := roi.DefaultConfig()
		return def, !s.cfg.Equal(def), nil
	})
}

// Save persists the current config. Edits made while the request is in
// flight keep the session marked unsaved.
func (s *Session) Save(ctx context.Context) (State, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return State{}, ErrClosed
	}
	s.touchLocked()
	if s.status != StatusReady {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrNotReady
	}
	cfg := s.cfg
	doc := footfall.ROIDocument{Config: cfg, VideoWidth: s.videoWidth, VideoHeight: s.videoHeight}
	s.mu.Unlock()

	err := s.gw.SaveROIConfig(ctx, doc)
	at := s.clock.Now()

	s.mu.Lock()
	if err != nil {
		s.saveErr = err.Error()
		if s.metrics != nil {
			s.metrics.ConfigSaveErrors.Add(1)
		}
		logger.Error("Editor", "Session %s: save failed: %v", s.id, err)
	} else {
		s.saveErr = ""
		s.savedAt = at
		if s.cfg.Equal(cfg) {
			s.unsaved = false
		}
		if s.metrics != nil {
			s.metrics.ConfigSaves.Add(1)
		}
		logger.Info("Editor", "Session %s saved config (line=%d, polygon=%d)", s.id, cfg.LineLen(), cfg.PolygonLen())
	}
	st := s.stateLocked()
	s.mu.Unlock()

	if err != nil {
		return st, err
	}
	if s.onSaved != nil {
		s.onSaved(s, cfg, at)
	}
	return st, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		ID:             s.id,
		Status:         s.status,
		Error:          s.errMsg,
		Warning:        s.warning,
		SaveError:      s.saveErr,
		Mode:           s.inter.Mode(),
		Interaction:    s.inter.String(),
		Canvas:         s.rect,
		Config:         footfall.ROIDocument{Config: s.cfg, VideoWidth: s.videoWidth, VideoHeight: s.videoHeight},
		Unsaved:        s.unsaved,
		SnapshotLoaded: s.bgLoaded,
		Version:        s.version,
	}
	if !s.savedAt.IsZero() {
		at := s.savedAt
		st.SavedAt = &at
	}
	return st
}

// Config returns the current shape config.
func (s *Session) Config() roi.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Frame returns the last rendered canvas (with alpha) and its version.
func (s *Session) Frame() (image.Image, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, 0, ErrNoFrame
	}
	s.touchLocked()
	return s.frame, s.version, nil
}

// FramePNG encodes the last frame as PNG.
func (s *Session) FramePNG() ([]byte, error) {
	img, _, err := s.Frame()
	if err != nil {
		return nil, err
	}
	return canvas.EncodePNG(img)
}

// FrameJPEG encodes the last frame, flattened, as JPEG.
func (s *Session) FrameJPEG() ([]byte, error) {
	img, _, err := s.Frame()
	if err != nil {
		return nil, err
	}
	return canvas.EncodeJPEG(s.renderer.Flatten(img), s.quality)
}

// redrawLocked renders the whole canvas and pushes it to streaming clients.
// While loading or after a failed load only the background is drawn, and
// the background only while the latest snapshot load succeeded.
func (s *Session) redrawLocked() {
	w := int(math.Round(s.rect.Width))
	h := int(math.Round(s.rect.Height))
	cfg := s.cfg
	if s.status != StatusReady {
		cfg = roi.Config{}
	}
	var bg image.Image
	if s.bgLoaded {
		bg = s.background
	}
	s.frame = s.renderer.RenderImage(w, h, cfg, bg)
	s.version++
	if s.metrics != nil {
		s.metrics.FramesRendered.Add(1)
	}

	if s.frames.ClientCount() == 0 {
		return
	}
	data, err := canvas.EncodeJPEG(s.renderer.Flatten(s.frame), s.quality)
	if err != nil {
		logger.Warn("Editor", "Session %s: frame encode failed: %v", s.id, err)
		return
	}
	s.frames.Broadcast(data)
}

func (s *Session) touchLocked() {
	s.lastActive = s.clock.Now()
}

// Attach marks a long-lived client, such as an editor socket, as using the
// session so the janitor leaves it open. Call release when the client goes.
func (s *Session) Attach() (release func()) {
	s.mu.Lock()
	s.attached++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.attached--
			s.touchLocked()
			s.mu.Unlock()
		})
	}
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// idleSince reports when the session was last used, and whether streaming
// or attached clients are still present.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.attached > 0 || s.frames.ClientCount() > 0
}

// close tears the session down: pending loads are discarded, the refresher
// and its retry timer stop, and streaming clients are disconnected.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.refresher.Stop()
	s.wg.Wait()
	s.frames.Close()
}
