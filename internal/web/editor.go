package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/footfall-dashboard/internal/editor"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
	"github.com/dj-oyu/footfall-dashboard/internal/store"
)

// Pointer event types.
const (
	pointerDown  = "down"
	pointerMove  = "move"
	pointerUp    = "up"
	pointerLeave = "leave"
)

// pointerRequest is one pointer event. Canvas, when set, is the rendered
// canvas size at the time of the event.
type pointerRequest struct {
	Type   string    `json:"type"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
	Canvas *roi.Rect `json:"canvas,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type clearRequest struct {
	Shape string `json:"shape"`
}

// applyPointer runs ev against the session.
func applyPointer(sess *editor.Session, ev pointerRequest) (editor.State, error) {
	if ev.Canvas != nil {
		if _, err := sess.SetCanvasSize(*ev.Canvas); err != nil {
			return editor.State{}, err
		}
	}
	pos := roi.CanvasPoint{X: ev.X, Y: ev.Y}
	switch ev.Type {
	case pointerDown:
		return sess.PointerDown(pos)
	case pointerMove:
		return sess.PointerMove(pos)
	case pointerUp:
		return sess.PointerUp()
	case pointerLeave:
		return sess.PointerLeave()
	default:
		return editor.State{}, badRequest("unknown pointer event %q", ev.Type)
	}
}

func (s *Server) session(c *gin.Context) (*editor.Session, bool) {
	sess, err := s.editor.Get(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return nil, false
	}
	return sess, true
}

// writeState answers with the session state. ErrNotReady still carries the
// state so the client can show the load error.
func writeState(c *gin.Context, st editor.State, err error) {
	if err == nil {
		writeJSON(c, st)
		return
	}
	if st.ID != "" {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error(), "state": st})
		return
	}
	writeErr(c, err)
}

func (s *Server) handleOpenSession(c *gin.Context) {
	sess, err := s.editor.Open(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.State())
}

func (s *Server) handleSessionState(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	writeJSON(c, sess.State())
}

func (s *Server) handleCloseSession(c *gin.Context) {
	if err := s.editor.Close(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePointer(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var ev pointerRequest
	if err := c.ShouldBindJSON(&ev); err != nil {
		writeErr(c, badRequest("invalid pointer event: %v", err))
		return
	}
	st, err := applyPointer(sess, ev)
	writeState(c, st, err)
}

func (s *Server) handleMode(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, badRequest("invalid mode body: %v", err))
		return
	}
	mode, err := roi.ParseMode(req.Mode)
	if err != nil {
		writeErr(c, badRequest("%v", err))
		return
	}
	st, err := sess.SetMode(mode)
	writeState(c, st, err)
}

func (s *Server) handleCanvas(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var rect roi.Rect
	if err := c.ShouldBindJSON(&rect); err != nil {
		writeErr(c, badRequest("invalid canvas body: %v", err))
		return
	}
	st, err := sess.SetCanvasSize(rect)
	writeState(c, st, err)
}

func (s *Server) handleClear(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req clearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, badRequest("invalid clear body: %v", err))
		return
	}
	var (
		st  editor.State
		err error
	)
	switch req.Shape {
	case roi.ShapeLine.String():
		st, err = sess.ClearLine()
	case roi.ShapePolygon.String():
		st, err = sess.ClearPolygon()
	default:
		writeErr(c, badRequest("shape must be line or polygon"))
		return
	}
	writeState(c, st, err)
}

func (s *Server) handleReset(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	st, err := sess.Reset()
	writeState(c, st, err)
}

func (s *Server) handleReload(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	st, err := sess.Reload()
	writeState(c, st, err)
}

func (s *Server) handleSave(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	st, err := sess.Save(c.Request.Context())
	writeState(c, st, err)
}

func (s *Server) handleFramePNG(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	data, err := sess.FramePNG()
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) handleFrameStream(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	frames := sess.Frames()
	id, frameCh := frames.Subscribe()
	defer frames.Unsubscribe(id)
	defer s.metrics.ClientConnected()()

	first, _ := sess.FrameJPEG()
	streamMJPEGFromChannel(c.Writer, c.Request.Context().Done(), first, frameCh, s.cfg.MJPEGIdle)
}

func (s *Server) handleRevisions(c *gin.Context) {
	if s.revisions == nil {
		writeError(c, http.StatusServiceUnavailable, "revision history disabled")
		return
	}
	limit, err := intQuery(c, "limit", 20, 1000)
	if err != nil {
		writeErr(c, err)
		return
	}
	revs, err := s.revisions.ListRevisions(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	if revs == nil {
		revs = []store.Revision{}
	}
	writeJSON(c, gin.H{"revisions": revs})
}

func (s *Server) handleRevision(c *gin.Context) {
	if s.revisions == nil {
		writeError(c, http.StatusServiceUnavailable, "revision history disabled")
		return
	}
	id, err := strconv.ParseInt(c.Param("rev"), 10, 64)
	if err != nil {
		writeErr(c, badRequest("invalid revision id %q", c.Param("rev")))
		return
	}
	rev, err := s.revisions.GetRevision(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, rev)
}
