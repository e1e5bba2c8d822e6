package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/footfall-dashboard/internal/report"
)

// handleReport builds the footfall report for start_date..end_date as a PDF
// download, or as JSON with format=json.
func (s *Server) handleReport(c *gin.Context) {
	start, end := c.Query("start_date"), c.Query("end_date")
	if start == "" || end == "" {
		writeErr(c, badRequest("start_date and end_date are required"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ReportTimeout)
	defer cancel()
	data, err := report.Build(ctx, s.api, start, end, s.clock.Now())
	if err != nil {
		writeErr(c, err)
		return
	}

	switch c.DefaultQuery("format", "pdf") {
	case "json":
		writeJSON(c, data)
	case "pdf":
		var buf bytes.Buffer
		if err := report.RenderPDF(&buf, data); err != nil {
			writeErr(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="footfall-report-%s-to-%s.pdf"`, start, end))
		c.Data(http.StatusOK, "application/pdf", buf.Bytes())
	default:
		writeErr(c, badRequest("format must be pdf or json"))
	}
}
