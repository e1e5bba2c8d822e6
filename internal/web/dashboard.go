package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) handleDashboardState(c *gin.Context) {
	writeJSON(c, s.poller.State())
}

// handleDashboardFilter switches the filter. A failed load still answers
// 200 with the error recorded in the state, as the retry is already
// scheduled.
func (s *Server) handleDashboardFilter(c *gin.Context) {
	var q footfall.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		writeErr(c, badRequest("invalid filter body: %v", err))
		return
	}
	st, err := s.poller.SetFilter(c.Request.Context(), q)
	if err != nil && errors.Is(err, footfall.ErrInvalidQuery) {
		writeErr(c, err)
		return
	}
	writeJSON(c, st)
}

func (s *Server) handleDashboardRefresh(c *gin.Context) {
	st, _ := s.poller.Refresh(c.Request.Context())
	writeJSON(c, st)
}

func (s *Server) handleDashboardMore(c *gin.Context) {
	st, err := s.poller.LoadMoreEvents(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, st)
}

func (s *Server) handleDashboardStream(c *gin.Context) {
	b := s.poller.Broadcaster()
	id, eventCh := b.Subscribe()
	defer b.Unsubscribe(id)
	defer s.metrics.ClientConnected()()

	streamEventsFromChannel(c.Writer, c.Request.Context().Done(), eventCh, wantsProtobuf(c.Request), s.cfg.KeepAlive)
}

func (s *Server) handleStreamStatus(c *gin.Context) {
	if s.stream == nil {
		writeError(c, http.StatusServiceUnavailable, "stream monitor disabled")
		return
	}
	writeJSON(c, s.stream.Status())
}

func (s *Server) handleStreamRefresh(c *gin.Context) {
	if s.stream == nil {
		writeError(c, http.StatusServiceUnavailable, "stream monitor disabled")
		return
	}
	writeJSON(c, s.stream.Refresh(c.Request.Context()))
}
