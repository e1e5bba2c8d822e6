package web

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/footfall-dashboard/internal/editor"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4096
)

// socketMessage is one client message on the editor socket. Pointer types
// use X/Y/Canvas; "mode" uses Mode; "canvas" uses Canvas; "clear" uses
// Shape; "reset", "reload", "save" and "state" take nothing.
type socketMessage struct {
	pointerRequest
	Mode  string `json:"mode,omitempty"`
	Shape string `json:"shape,omitempty"`
}

// socketReply answers every message with the resulting state.
type socketReply struct {
	Type  string        `json:"type"`
	Seq   uint64        `json:"seq"`
	State *editor.State `json:"state,omitempty"`
	Error string        `json:"error,omitempty"`
}

// handleSessionSocket is the low-latency pointer channel. One goroutine
// reads, so events apply in arrival order.
func (s *Server) handleSessionSocket(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket", "Upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	defer s.metrics.ClientConnected()()
	defer sess.Attach()()
	logger.Debug("WebSocket", "Editor socket opened for session %s", sess.ID())

	var writeMu sync.Mutex
	write := func(msgType int, v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		switch data := v.(type) {
		case nil:
			return conn.WriteMessage(msgType, nil)
		case []byte:
			return conn.WriteMessage(msgType, data)
		}
		return conn.WriteJSON(v)
	}

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-sess.Done():
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	st := sess.State()
	if err := write(websocket.TextMessage, socketReply{Type: "state", State: &st}); err != nil {
		return
	}

	var seq uint64
	for {
		var msg socketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket", "Editor socket for %s closed: %v", sess.ID(), err)
			}
			return
		}
		seq++
		st, err := s.applySocketMessage(c, sess, msg)
		reply := socketReply{Type: "state", Seq: seq}
		if st.ID != "" {
			reply.State = &st
		}
		if err != nil {
			reply.Type = "error"
			reply.Error = err.Error()
		}
		if err := write(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

func (s *Server) applySocketMessage(c *gin.Context, sess *editor.Session, msg socketMessage) (editor.State, error) {
	switch msg.Type {
	case pointerDown, pointerMove, pointerUp, pointerLeave:
		return applyPointer(sess, msg.pointerRequest)
	case "mode":
		mode, err := roi.ParseMode(msg.Mode)
		if err != nil {
			return sess.State(), badRequest("%v", err)
		}
		return sess.SetMode(mode)
	case "canvas":
		if msg.Canvas == nil {
			return sess.State(), badRequest("canvas is required")
		}
		return sess.SetCanvasSize(*msg.Canvas)
	case "clear":
		switch msg.Shape {
		case roi.ShapeLine.String():
			return sess.ClearLine()
		case roi.ShapePolygon.String():
			return sess.ClearPolygon()
		}
		return sess.State(), badRequest("shape must be line or polygon")
	case "reset":
		return sess.Reset()
	case "reload":
		return sess.Reload()
	case "save":
		return sess.Save(c.Request.Context())
	case "state":
		return sess.State(), nil
	default:
		return sess.State(), badRequest("unknown message type %q", msg.Type)
	}
}
