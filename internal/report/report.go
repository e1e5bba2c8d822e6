// Package report aggregates a date range of footfall data into a printable
// summary.
package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
)

const (
	eventsLimit     = 1000
	historyLimit    = 10000
	historyStart    = "2020-01-01"
	maxReportPeriod = 366
)

// Source is the subset of the footfall API a report needs.
type Source interface {
	Analytics(ctx context.Context, q footfall.Query) (footfall.Analytics, error)
	Dashboard(ctx context.Context, q footfall.Query) (footfall.DashboardStats, error)
	DailyStats(ctx context.Context, days int) ([]footfall.DailyStat, error)
	Events(ctx context.Context, limit int, q footfall.Query) ([]footfall.Event, error)
}

// DailyVisitors is one bar of the daily trend.
type DailyVisitors struct {
	Date     string `json:"date"`
	Visitors int    `json:"visitors"`
}

// Data is everything the report shows.
type Data struct {
	StartDate            string          `json:"start_date"`
	EndDate              string          `json:"end_date"`
	Days                 int             `json:"days"`
	TotalUniqueVisitors  int             `json:"total_unique_visitors"`
	AverageDailyFootfall float64         `json:"average_daily_footfall"`
	HourlyLabels         []string        `json:"hourly_labels"`
	HourlyData           []float64       `json:"hourly_data"`
	Daily                []DailyVisitors `json:"daily_data,omitempty"`
	NewCustomers         int             `json:"new_customers"`
	ReturningCustomers   int             `json:"returning_customers"`
	PeakHour             string          `json:"peak_hour,omitempty"`
	MeanHourly           float64         `json:"mean_hourly"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// MultiDay reports whether the range spans more than one day.
func (d Data) MultiDay() bool { return d.Days > 1 }

// NewRatio returns the new and returning shares in percent, or ok=false
// when no visitor was seen.
func (d Data) NewRatio() (newPct, returningPct float64, ok bool) {
	total := d.NewCustomers + d.ReturningCustomers
	if total == 0 {
		return 0, 0, false
	}
	newPct = float64(d.NewCustomers) / float64(total) * 100
	return newPct, 100 - newPct, true
}

// DaysBetween counts the calendar days of an inclusive range, never less
// than one.
func DaysBetween(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours()/24)) + 1
	return max(1, days)
}

// Build collects the report for [startDate, endDate] (YYYY-MM-DD).
func Build(ctx context.Context, src Source, startDate, endDate string, now time.Time) (Data, error) {
	q := footfall.Query{Filter: footfall.FilterCustom, StartDate: startDate, EndDate: endDate}
	if err := q.Validate(); err != nil {
		return Data{}, err
	}
	start, _ := time.Parse(footfall.DateLayout, startDate)
	end, _ := time.Parse(footfall.DateLayout, endDate)
	days := DaysBetween(start, end)
	if days > maxReportPeriod {
		return Data{}, fmt.Errorf("%w: report period of %d days exceeds %d", footfall.ErrInvalidQuery, days, maxReportPeriod)
	}

	analytics, err := src.Analytics(ctx, q)
	if err != nil {
		return Data{}, fmt.Errorf("analytics: %w", err)
	}
	dash, err := src.Dashboard(ctx, q)
	if err != nil {
		return Data{}, fmt.Errorf("dashboard stats: %w", err)
	}

	d := Data{
		StartDate:           startDate,
		EndDate:             endDate,
		Days:                days,
		TotalUniqueVisitors: dash.TotalCustomers,
		HourlyLabels:        lo.Ternary(analytics.HourlyAnalysis.Labels != nil, analytics.HourlyAnalysis.Labels, []string{}),
		HourlyData:          lo.Ternary(analytics.HourlyAnalysis.Entries != nil, analytics.HourlyAnalysis.Entries, []float64{}),
		GeneratedAt:         now,
	}
	d.AverageDailyFootfall = float64(dash.TotalCustomers)
	if days > 1 {
		d.AverageDailyFootfall /= float64(days)

		daily, err := src.DailyStats(ctx, days)
		if err != nil {
			return Data{}, fmt.Errorf("daily stats: %w", err)
		}
		d.Daily = dailyInRange(daily, start, end)
	}

	events, err := src.Events(ctx, eventsLimit, q)
	if err != nil {
		return Data{}, fmt.Errorf("events: %w", err)
	}
	history, err := src.Events(ctx, historyLimit, footfall.Query{
		Filter:    footfall.FilterCustom,
		StartDate: historyStart,
		EndDate:   start.AddDate(0, 0, -1).Format(footfall.DateLayout),
	})
	if err != nil {
		return Data{}, fmt.Errorf("historical events: %w", err)
	}
	d.NewCustomers, d.ReturningCustomers = splitCustomers(events, history)

	d.PeakHour, d.MeanHourly = hourlySummary(d.HourlyLabels, d.HourlyData)

	logger.Info("Report", "Built report %s..%s: %d days, %d visitors (%d new, %d returning)",
		startDate, endDate, days, d.TotalUniqueVisitors, d.NewCustomers, d.ReturningCustomers)
	return d, nil
}

func dailyInRange(daily []footfall.DailyStat, start, end time.Time) []DailyVisitors {
	in := lo.Filter(daily, func(s footfall.DailyStat, _ int) bool {
		t, err := time.Parse(footfall.DateLayout, s.Date)
		return err == nil && !t.Before(start) && !t.After(end)
	})
	return lo.Map(in, func(s footfall.DailyStat, _ int) DailyVisitors {
		return DailyVisitors{Date: s.Date, Visitors: s.Entries}
	})
}

func customerNames(events []footfall.Event) []string {
	return lo.Uniq(lo.Compact(lo.Map(events, func(e footfall.Event, _ int) string {
		return e.CustomerName
	})))
}

// splitCustomers counts the period's distinct customers, returning when
// they appear before the period.
func splitCustomers(period, history []footfall.Event) (newCount, returning int) {
	seen := lo.SliceToMap(customerNames(history), func(name string) (string, struct{}) {
		return name, struct{}{}
	})
	for _, name := range customerNames(period) {
		if _, ok := seen[name]; ok {
			returning++
		} else {
			newCount++
		}
	}
	return newCount, returning
}

func hourlySummary(labels []string, entries []float64) (string, float64) {
	if len(entries) == 0 {
		return "", 0
	}
	mean, err := stats.Mean(entries)
	if err != nil {
		mean = 0
	}
	peak, err := stats.Max(entries)
	if err != nil || peak <= 0 {
		return "", mean
	}
	idx := lo.IndexOf(entries, peak)
	if idx < 0 || idx >= len(labels) {
		return "", mean
	}
	return labels[idx], mean
}
