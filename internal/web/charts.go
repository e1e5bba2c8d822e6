package web

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/dj-oyu/footfall-dashboard/internal/dashboard"
)

// chartsAssetsHost serves echarts.min.js.
const chartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

func initOpts(title string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle:  title,
		Width:      "100%",
		Height:     "420px",
		AssetsHost: chartsAssetsHost,
	})
}

func barData(values []float64) []opts.BarData {
	out := make([]opts.BarData, len(values))
	for i, v := range values {
		out[i] = opts.BarData{Value: v}
	}
	return out
}

func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		out[i] = opts.LineData{Value: v}
	}
	return out
}

// chartState returns the dashboard analytics, loading them if the poller
// has not produced any yet.
func (s *Server) chartState(c *gin.Context) (dashboard.Snapshot, bool) {
	st := s.poller.State()
	if st.Analytics != nil {
		return st, true
	}
	st, err := s.poller.Refresh(c.Request.Context())
	if err != nil || st.Analytics == nil {
		if err == nil {
			err = fmt.Errorf("no analytics available")
		}
		writeErr(c, err)
		return st, false
	}
	return st, true
}

type renderer interface {
	Render(w io.Writer) error
}

func writeChart(c *gin.Context, chart renderer) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		writeErr(c, fmt.Errorf("render chart: %w", err))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleOverviewChart(c *gin.Context) {
	st, ok := s.chartState(c)
	if !ok {
		return
	}
	series := st.Analytics.DailyOverview

	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts("Activity Overview"),
		charts.WithTitleOpts(opts.Title{Title: "Activity Overview", Subtitle: st.Comparison}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Entries", Min: 0}),
	)
	line.SetXAxis(series.Labels).
		AddSeries("Entries", lineData(series.Entries),
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		)
	writeChart(c, line)
}

func (s *Server) handleHourlyChart(c *gin.Context) {
	st, ok := s.chartState(c)
	if !ok {
		return
	}
	hourly := st.Analytics.HourlyAnalysis

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts("Hourly Analysis"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Hourly Analysis",
			Subtitle: fmt.Sprintf("%d unique customers", hourly.TotalUniqueCustomers),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Entries", Min: 0}),
	)
	bar.SetXAxis(hourly.Labels).
		AddSeries("Entries", barData(hourly.Entries),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#8b5cf6"}),
		)
	writeChart(c, bar)
}

func (s *Server) handleDailyChart(c *gin.Context) {
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

	labels := make([]string, len(stats))
	entries := make([]float64, len(stats))
	exits := make([]float64, len(stats))
	for i, d := range stats {
		labels[i] = d.Date
		entries[i] = float64(d.Entries)
		exits[i] = float64(d.Exits)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts("Daily Statistics"),
		charts.WithTitleOpts(opts.Title{Title: "Daily Statistics", Subtitle: fmt.Sprintf("last %d days", days)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("Entries", barData(entries), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#22c55e"})).
		AddSeries("Exits", barData(exits), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ef4444"}))
	writeChart(c, bar)
}
