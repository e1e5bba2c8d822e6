package web

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
)

// queryFrom reads filter/start_date/end_date. Custom ranges are validated
// here so a bad range never reaches the remote API.
func queryFrom(c *gin.Context) (footfall.Query, error) {
	f, err := footfall.ParseFilter(c.Query("filter"))
	if err != nil {
		return footfall.Query{}, err
	}
	q := footfall.Query{Filter: f, StartDate: c.Query("start_date"), EndDate: c.Query("end_date")}
	if f == footfall.FilterCustom {
		if err := q.Validate(); err != nil {
			return footfall.Query{}, err
		}
	}
	return q, nil
}

func intQuery(c *gin.Context, key string, def, maxValue int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badRequest("%s must be a positive integer", key)
	}
	return min(n, maxValue), nil
}

func (s *Server) handleProxyDashboard(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	stats, err := s.api.Dashboard(c.Request.Context(), q)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, stats)
}

func (s *Server) handleProxyEvents(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 50, 10000)
	if err != nil {
		writeErr(c, err)
		return
	}
	events, err := s.api.Events(c.Request.Context(), limit, q)
	if err != nil {
		writeErr(c, err)
		return
	}
	if events == nil {
		events = []footfall.Event{}
	}
	writeJSON(c, events)
}

func (s *Server) handleProxyAnalytics(c *gin.Context) {
	q, err := queryFrom(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	a, err := s.api.Analytics(c.Request.Context(), q)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, a)
}

func (s *Server) handleProxyDailyStats(c *gin.Context) {
	days, err := intQuery(c, "days", 7, 366)
	if err != nil {
		writeErr(c, err)
		return
	}
	stats, err := s.api.DailyStats(c.Request.Context(), days)
	if err != nil {
		writeErr(c, err)
		return
	}
	if stats == nil {
		stats = []footfall.DailyStat{}
	}
	writeJSON(c, stats)
}

func (s *Server) handleProxyStreamInfo(c *gin.Context) {
	info, err := s.api.StreamInfo(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, info)
}

func (s *Server) handleProxySnapshot(c *gin.Context) {
	data, contentType, err := s.api.SnapshotRaw(c.Request.Context(), s.clock.Now())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleProxyROIConfig(c *gin.Context) {
	doc, err := s.api.ROIConfig(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, doc)
}

func (s *Server) handleProxySaveROIConfig(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		writeErr(c, badRequest("read body: %v", err))
		return
	}
	doc, err := footfall.DecodeROIConfig(body)
	if err != nil {
		writeErr(c, badRequest("%v", err))
		return
	}
	if err := s.api.SaveROIConfig(c.Request.Context(), doc); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, gin.H{"message": "ROI configuration saved successfully"})
}

func (s *Server) handleProxyCustomers(c *gin.Context) {
	customers, err := s.api.Customers(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	if customers == nil {
		customers = []footfall.CustomerProfile{}
	}
	writeJSON(c, customers)
}

func (s *Server) handleProxyDeleteCustomer(c *gin.Context) {
	msg, err := s.api.DeleteCustomer(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, gin.H{"message": msg})
}

func (s *Server) handleProxyRegisterFace(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.UploadLimit)
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		writeErr(c, badRequest("name is required"))
		return
	}
	fh, err := c.FormFile("photo")
	if err != nil {
		writeErr(c, badRequest("photo is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeErr(c, badRequest("open photo: %v", err))
		return
	}
	defer f.Close()

	msg, err := s.api.RegisterFace(c.Request.Context(), name, fh.Filename, f)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, gin.H{"message": msg})
}
