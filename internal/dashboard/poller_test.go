package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
)

type fakeAPI struct {
	mu          sync.Mutex
	err         error
	entries     map[footfall.Filter]int
	totalEvents int
	refreshes   int
	analytics   []footfall.Query
	limits      []int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		entries: map[footfall.Filter]int{
			footfall.FilterToday:     10,
			footfall.FilterYesterday: 7,
			footfall.FilterThisMonth: 42,
			footfall.FilterCustom:    5,
		},
		totalEvents: 120,
	}
}

func (f *fakeAPI) Dashboard(_ context.Context, q footfall.Query) (footfall.DashboardStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.Filter != footfall.FilterYesterday {
		f.refreshes++
	}
	if f.err != nil {
		return footfall.DashboardStats{}, f.err
	}
	return footfall.DashboardStats{Entries: f.entries[q.Filter]}, nil
}

func (f *fakeAPI) Events(_ context.Context, limit int, _ footfall.Query) ([]footfall.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	n := min(limit, f.totalEvents)
	out := make([]footfall.Event, n)
	for i := range out {
		out[i] = footfall.Event{ID: i + 1}
	}
	return out, nil
}

func (f *fakeAPI) Analytics(_ context.Context, q footfall.Query) (footfall.Analytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics = append(f.analytics, q)
	if f.err != nil {
		return footfall.Analytics{}, f.err
	}
	tag := string(q.Filter) + q.StartDate
	return footfall.Analytics{
		DailyOverview:     footfall.Series{Labels: []string{tag}},
		HourlyAnalysis:    footfall.HourlyAnalysis{Labels: []string{tag}},
		CustomerBreakdown: footfall.CustomerBreakdown{NewCustomers: len(tag)},
	}, nil
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAPI) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func newTestPoller(t *testing.T, api API) (*Poller, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	p := New(api, DefaultConfig(), WithClock(mock))
	t.Cleanup(p.Stop)
	return p, mock
}

func TestRefreshCombinesAnalytics(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestPoller(t, api)

	st, err := p.Refresh(context.Background())
	require.NoError(t, err)

	require.NotNil(t, st.Stats)
	assert.Equal(t, 10, st.Stats.Entries)
	require.NotNil(t, st.Yesterday)
	assert.Equal(t, "+3 vs yesterday", st.Comparison)

	require.NotNil(t, st.Analytics)
	assert.Equal(t, []string{"this-week"}, st.Analytics.DailyOverview.Labels)
	assert.Equal(t, []string{"today"}, st.Analytics.HourlyAnalysis.Labels)
	assert.Equal(t, len("today"), st.Analytics.CustomerBreakdown.NewCustomers)

	assert.Len(t, st.Events, 50)
	assert.True(t, st.HasMore)
	assert.Empty(t, st.Error)
	assert.NotNil(t, st.LastUpdated)
	assert.Equal(t, []int{50}, api.limits)
}

func TestFilterChanges(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestPoller(t, api)
	ctx := context.Background()

	st, err := p.SetFilter(ctx, footfall.Query{Filter: footfall.FilterThisMonth, StartDate: "2026-01-01"})
	require.NoError(t, err)
	assert.Nil(t, st.Yesterday)
	assert.Equal(t, "42 this month", st.Comparison)
	assert.Empty(t, st.Query.StartDate)
	assert.Equal(t, []string{"this-month"}, st.Analytics.DailyOverview.Labels)

	st, err = p.SetFilter(ctx, footfall.Query{Filter: footfall.FilterCustom, StartDate: "2026-01-01", EndDate: "2026-01-07"})
	require.NoError(t, err)
	assert.Equal(t, "5 selected period", st.Comparison)
	assert.Equal(t, []string{"custom2026-01-01"}, st.Analytics.DailyOverview.Labels)

	_, err = p.SetFilter(ctx, footfall.Query{Filter: footfall.FilterToday})
	require.NoError(t, err)

	// Custom without dates reuses the last range.
	st, err = p.SetFilter(ctx, footfall.Query{Filter: footfall.FilterCustom})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-07", st.Query.EndDate)

	_, err = p.SetFilter(ctx, footfall.Query{Filter: footfall.FilterCustom, StartDate: "2026-02-10", EndDate: "2026-02-01"})
	assert.Error(t, err)
	_, err = p.SetFilter(ctx, footfall.Query{Filter: "fortnight"})
	assert.Error(t, err)
	assert.Equal(t, footfall.FilterCustom, p.State().Query.Filter)
}

func TestFailureRetriesOnceAfterDelay(t *testing.T) {
	api := newFakeAPI()
	api.setErr(errors.New("HTTP error! status: 503"))
	p, mock := newTestPoller(t, api)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.State().Error != "" }, time.Second, time.Millisecond)
	assert.Equal(t, 1, api.refreshCount())

	mock.Add(5 * time.Second)
	require.Eventually(t, func() bool { return api.refreshCount() == 2 }, time.Second, time.Millisecond)

	// A failed retry schedules nothing further.
	mock.Add(5 * time.Second)
	assert.Never(t, func() bool { return api.refreshCount() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Contains(t, p.State().Error, "503")

	api.setErr(nil)
	mock.Add(50 * time.Second)
	require.Eventually(t, func() bool { return p.State().Error == "" }, time.Second, time.Millisecond)
	assert.Equal(t, 3, api.refreshCount())
}

func TestRetryRecovers(t *testing.T) {
	api := newFakeAPI()
	api.setErr(errors.New("connection refused"))
	p, mock := newTestPoller(t, api)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.State().Error != "" }, time.Second, time.Millisecond)

	api.setErr(nil)
	mock.Add(5 * time.Second)
	require.Eventually(t, func() bool { return p.State().Error == "" }, time.Second, time.Millisecond)
	assert.NotNil(t, p.State().Stats)
}

func TestLoadMoreEvents(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestPoller(t, api)
	ctx := context.Background()

	_, err := p.Refresh(ctx)
	require.NoError(t, err)

	st, err := p.LoadMoreEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Events, 120)
	assert.False(t, st.HasMore)
	assert.Equal(t, []int{50, 150}, api.limits)

	// Exhausted feed: no further request.
	_, err = p.LoadMoreEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, api.limits, 2)
}

func TestComparison(t *testing.T) {
	y := &footfall.DashboardStats{Entries: 7}
	cases := []struct {
		filter    footfall.Filter
		entries   int
		yesterday *footfall.DashboardStats
		want      string
	}{
		{footfall.FilterToday, 7, y, "Same as yesterday"},
		{footfall.FilterToday, 9, y, "+2 vs yesterday"},
		{footfall.FilterToday, 4, y, "-3 vs yesterday"},
		{footfall.FilterToday, 0, nil, "No activity"},
		{footfall.FilterToday, 3, nil, "3 selected period"},
		{footfall.FilterYesterday, 3, nil, "3 yesterday"},
		{footfall.FilterThisWeek, 3, nil, "3 this week"},
		{footfall.FilterThisMonth, 3, y, "3 this month"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Comparison(tc.filter, tc.entries, tc.yesterday))
	}
}

func TestSubscribersReceiveState(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestPoller(t, api)

	_, err := p.Refresh(context.Background())
	require.NoError(t, err)

	// Late subscribers get the latest state straight away.
	_, ch := p.Broadcaster().Subscribe()
	ev := <-ch
	assert.Equal(t, EventState, ev.Name)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(ev.JSONData, &snap))
	assert.Equal(t, "+3 vs yesterday", snap.Comparison)

	st, err := DecodeProtobuf(ev.ProtobufData)
	require.NoError(t, err)
	assert.Equal(t, "+3 vs yesterday", st.Fields["comparison"].GetStringValue())
	assert.Equal(t, float64(10), st.Fields["stats"].GetStructValue().Fields["entries"].GetNumberValue())
}

func TestPushLiveEvent(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestPoller(t, api)
	p.Start(context.Background())
	require.Eventually(t, func() bool { return api.refreshCount() == 1 }, time.Second, time.Millisecond)

	_, ch := p.Broadcaster().Subscribe()
	p.PushLiveEvent(EventNewEvent, &footfall.Event{ID: 77, EventType: "entry"})

	require.Eventually(t, func() bool { return api.refreshCount() == 2 }, time.Second, time.Millisecond)
	var names []string
	timeout := time.After(time.Second)
	for len(names) < 3 {
		select {
		case ev := <-ch:
			names = append(names, ev.Name)
		case <-timeout:
			t.Fatalf("got events %v", names)
		}
	}
	assert.Contains(t, names, EventNewEvent)
}

func TestSerializeRejectsNonObjects(t *testing.T) {
	_, err := Serialize("bad", []int{1, 2})
	assert.Error(t, err)
}
