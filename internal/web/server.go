// Package web serves the footfall dashboard: the dashboard state and its
// SSE feed, the server-side ROI editor, reports, charts and a pass-through
// of the remote footfall API.
package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/dj-oyu/footfall-dashboard/internal/dashboard"
	"github.com/dj-oyu/footfall-dashboard/internal/editor"
	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
	"github.com/dj-oyu/footfall-dashboard/internal/report"
	"github.com/dj-oyu/footfall-dashboard/internal/store"
	"github.com/dj-oyu/footfall-dashboard/internal/stream"
)

// Upstream is the remote footfall API as the server uses it.
type Upstream interface {
	report.Source
	StreamInfo(ctx context.Context) (footfall.StreamInfo, error)
	ROIConfig(ctx context.Context) (footfall.ROIDocument, error)
	SaveROIConfig(ctx context.Context, doc footfall.ROIDocument) error
	SnapshotRaw(ctx context.Context, at time.Time) ([]byte, string, error)
	Customers(ctx context.Context) ([]footfall.CustomerProfile, error)
	DeleteCustomer(ctx context.Context, name string) (string, error)
	RegisterFace(ctx context.Context, name, filename string, photo io.Reader) (string, error)
}

// RevisionStore reads the saved ROI history.
type RevisionStore interface {
	ListRevisions(ctx context.Context, limit int) ([]store.Revision, error)
	GetRevision(ctx context.Context, id int64) (store.Revision, error)
}

// Deps are the components behind the routes. Revisions may be nil when
// history is disabled.
type Deps struct {
	API       Upstream
	Editor    *editor.Manager
	Poller    *dashboard.Poller
	Stream    *stream.Monitor
	Revisions RevisionStore
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

// Server serves the dashboard endpoints.
type Server struct {
	cfg       Config
	api       Upstream
	editor    *editor.Manager
	poller    *dashboard.Poller
	stream    *stream.Monitor
	revisions RevisionStore
	metrics   *metrics.Metrics
	clock     clock.Clock
	upgrader  websocket.Upgrader
	assets    *assetHandler
}

// NewServer returns a configured dashboard server.
func NewServer(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Server{
		cfg:       cfg,
		api:       deps.API,
		editor:    deps.Editor,
		poller:    deps.Poller,
		stream:    deps.Stream,
		revisions: deps.Revisions,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		assets: newAssetHandler(cfg.AssetsDir),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", s.handleIndex)
	r.GET("/roi", s.handleROIPage)
	r.GET("/assets/*file", s.assets.serve)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	dash := r.Group("/api/dashboard")
	dash.GET("/state", s.handleDashboardState)
	dash.POST("/filter", s.handleDashboardFilter)
	dash.POST("/refresh", s.handleDashboardRefresh)
	dash.POST("/events/more", s.handleDashboardMore)
	dash.GET("/stream", s.handleDashboardStream)

	// Pass-through of the remote API for the browser.
	r.GET("/api/dashboard", s.handleProxyDashboard)
	r.GET("/api/events", s.handleProxyEvents)
	r.GET("/api/analytics", s.handleProxyAnalytics)
	r.GET("/api/daily-stats", s.handleProxyDailyStats)
	r.GET("/api/stream-info", s.handleProxyStreamInfo)
	r.GET("/api/camera/snapshot", s.handleProxySnapshot)
	r.GET("/api/roi-config", s.handleProxyROIConfig)
	r.POST("/api/roi-config", s.handleProxySaveROIConfig)
	r.GET("/api/customers", s.handleProxyCustomers)
	r.DELETE("/api/customers/:name", s.handleProxyDeleteCustomer)
	r.POST("/api/faces/register", s.handleProxyRegisterFace)

	r.GET("/api/stream/status", s.handleStreamStatus)
	r.POST("/api/stream/refresh", s.handleStreamRefresh)

	roi := r.Group("/api/roi")
	roi.POST("/sessions", s.handleOpenSession)
	roi.GET("/sessions/:id", s.handleSessionState)
	roi.DELETE("/sessions/:id", s.handleCloseSession)
	roi.POST("/sessions/:id/pointer", s.handlePointer)
	roi.POST("/sessions/:id/mode", s.handleMode)
	roi.POST("/sessions/:id/canvas", s.handleCanvas)
	roi.POST("/sessions/:id/clear", s.handleClear)
	roi.POST("/sessions/:id/reset", s.handleReset)
	roi.POST("/sessions/:id/reload", s.handleReload)
	roi.POST("/sessions/:id/save", s.handleSave)
	roi.GET("/sessions/:id/frame.png", s.handleFramePNG)
	roi.GET("/sessions/:id/stream", s.handleFrameStream)
	roi.GET("/sessions/:id/ws", s.handleSessionSocket)
	roi.GET("/revisions", s.handleRevisions)
	roi.GET("/revisions/:rev", s.handleRevision)

	r.GET("/api/report", s.handleReport)

	charts := r.Group("/charts")
	charts.GET("/overview", s.handleOverviewChart)
	charts.GET("/hourly", s.handleHourlyChart)
	charts.GET("/daily", s.handleDailyChart)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Content-Format"},
	}).Handler(r)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			logger.Warn("HTTP", "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
			return
		}
		logger.Debug("HTTP", "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleROIPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(roiHTML))
}

func (s *Server) handleHealth(c *gin.Context) {
	payload := gin.H{
		"status":          "ok",
		"editor_sessions": s.editor.Len(),
		"sse_clients":     s.poller.Broadcaster().ClientCount(),
		"timestamp":       float64(s.clock.Now().Unix()),
	}
	if s.stream != nil {
		payload["stream_healthy"] = s.stream.Status().Healthy
	}
	writeJSON(c, payload)
}

func writeJSON(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeErr maps err onto a status code and an {"error": ...} body.
func writeErr(c *gin.Context, err error) {
	writeError(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var se *footfall.StatusError
	var re *footfall.RetryError
	switch {
	case errors.Is(err, editor.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, editor.ErrClosed):
		return http.StatusGone
	case errors.Is(err, editor.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, editor.ErrInvalidCanvas), errors.Is(err, footfall.ErrInvalidQuery), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &se):
		if se.Code == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.As(err, &re), errors.Is(err, footfall.ErrMalformed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
