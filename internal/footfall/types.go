package footfall

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Filter selects the reporting period of dashboard, events and analytics calls.
type Filter string

const (
	FilterToday     Filter = "today"
	FilterYesterday Filter = "yesterday"
	FilterThisWeek  Filter = "this-week"
	FilterThisMonth Filter = "this-month"
	FilterCustom    Filter = "custom"
)

// DateLayout is the wire format of start_date/end_date.
const DateLayout = "2006-01-02"

// ErrInvalidQuery marks a filter or date range the API would reject.
var ErrInvalidQuery = errors.New("invalid query")

// ParseFilter accepts the filter names the API understands.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterToday, FilterYesterday, FilterThisWeek, FilterThisMonth, FilterCustom:
		return f, nil
	case "":
		return FilterToday, nil
	default:
		return "", fmt.Errorf("%w: unknown filter %q", ErrInvalidQuery, s)
	}
}

// Query is a filter plus the optional custom date range.
type Query struct {
	Filter    Filter `json:"filter"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Validate checks that custom ranges carry parseable, ordered dates.
func (q Query) Validate() error {
	if _, err := ParseFilter(string(q.Filter)); err != nil {
		return err
	}
	if q.Filter != FilterCustom {
		return nil
	}
	start, err := time.Parse(DateLayout, q.StartDate)
	if err != nil {
		return fmt.Errorf("%w: invalid start_date %q", ErrInvalidQuery, q.StartDate)
	}
	end, err := time.Parse(DateLayout, q.EndDate)
	if err != nil {
		return fmt.Errorf("%w: invalid end_date %q", ErrInvalidQuery, q.EndDate)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end_date %s before start_date %s", ErrInvalidQuery, q.EndDate, q.StartDate)
	}
	return nil
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Filter != "" {
		v.Set("filter", string(q.Filter))
	}
	if q.StartDate != "" {
		v.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		v.Set("end_date", q.EndDate)
	}
	return v
}

// DashboardStats is the aggregate returned by /api/dashboard.
type DashboardStats struct {
	Entries            int    `json:"entries"`
	Exits              int    `json:"exits"`
	CurrentOccupancy   int    `json:"current_occupancy"`
	TotalCustomers     int    `json:"total_customers"`
	NewCustomers       int    `json:"new_customers"`
	ReturningCustomers int    `json:"returning_customers"`
	LastUpdated        string `json:"last_updated"`
}

// Event is one entry/exit record, newest first in listings.
type Event struct {
	ID                int    `json:"id"`
	Timestamp         string `json:"timestamp"`
	Type              string `json:"type"`
	EventType         string `json:"event_type"`
	PersonName        string `json:"person_name"`
	CustomerName      string `json:"customer_name"`
	VisitCount        int    `json:"visit_count"`
	RecognitionStatus string `json:"recognition_status"`
	IsReturning       bool   `json:"is_returning"`
	CustomerType      string `json:"customer_type,omitempty"`
}

// Series is a labelled sequence of entry counts.
type Series struct {
	Labels  []string  `json:"labels"`
	Entries []float64 `json:"entries"`
}

type HourlyAnalysis struct {
	Labels               []string  `json:"labels"`
	Entries              []float64 `json:"entries"`
	TotalUniqueCustomers int       `json:"total_unique_customers"`
}

type CustomerBreakdown struct {
	NewCustomers       int `json:"new_customers"`
	ReturningCustomers int `json:"returning_customers"`
}

// Analytics is the /api/analytics payload.
type Analytics struct {
	DailyOverview     Series            `json:"daily_overview"`
	HourlyAnalysis    HourlyAnalysis    `json:"hourly_analysis"`
	CustomerBreakdown CustomerBreakdown `json:"customer_breakdown"`
	PeakHour          string            `json:"peak_hour,omitempty"`
	TotalEntries      int               `json:"total_entries,omitempty"`
}

// DailyStat is one row of /api/daily-stats.
type DailyStat struct {
	Date           string `json:"date"`
	Entries        int    `json:"entries"`
	Exits          int    `json:"exits"`
	TotalCustomers int    `json:"total_customers"`
	NetFlow        int    `json:"net_flow"`
}

// StreamInfo describes the live HLS stream.
type StreamInfo struct {
	StreamURL    string  `json:"stream_url"`
	StreamActive bool    `json:"stream_active"`
	Resolution   string  `json:"resolution"`
	FPS          float64 `json:"fps"`
}

// CustomerProfile is a registered face profile.
type CustomerProfile struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	RegisteredDate string `json:"registered_date"`
	VisitCount     int    `json:"visit_count"`
	LastVisit      string `json:"last_visit"`
}
