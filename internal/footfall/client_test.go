package footfall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/footfall-dashboard/internal/roi"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *recordingTimer) Stop()               {}
func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (t *recordingTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// flakyTransport fails the first n round trips with a transport error.
type flakyTransport struct {
	failures atomic.Int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(req)
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) (*Client, *recordingTimer) {
	t.Helper()
	timer := newRecordingTimer()
	opts = append([]Option{WithTimer(func() backoff.Timer { return timer })}, opts...)
	c, err := New(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c, timer
}

func TestDashboardSendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dashboard", r.URL.Path)
		assert.Equal(t, "custom", r.URL.Query().Get("filter"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-01-07", r.URL.Query().Get("end_date"))
		_, _ = w.Write([]byte(`{"entries":12,"exits":10,"current_occupancy":2,"total_customers":9,"new_customers":4,"returning_customers":5,"last_updated":"now"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	stats, err := c.Dashboard(context.Background(), Query{Filter: FilterCustom, StartDate: "2024-01-01", EndDate: "2024-01-07"})
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{
		Entries: 12, Exits: 10, CurrentOccupancy: 2, TotalCustomers: 9,
		NewCustomers: 4, ReturningCustomers: 5, LastUpdated: "now",
	}, stats)
}

func TestTransportErrorsAreRetriedWithDoublingDelay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"id":1,"customer_name":"Ann","event_type":"entry"}]`))
	}))
	defer srv.Close()

	flaky := &flakyTransport{next: http.DefaultTransport}
	flaky.failures.Store(2)
	c, timer := newTestClient(t, srv, WithHTTPClient(&http.Client{Transport: flaky}))

	events, err := c.Events(context.Background(), 50, Query{Filter: FilterToday})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Ann", events[0].CustomerName)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.Waits())
}

func TestTransportErrorsGiveUpAfterThreeAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	flaky := &flakyTransport{next: http.DefaultTransport}
	flaky.failures.Store(100)
	c, timer := newTestClient(t, srv, WithHTTPClient(&http.Client{Transport: flaky}))

	_, err := c.ROIConfig(context.Background())
	require.Error(t, err)
	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.Waits())
	assert.Equal(t, uint64(2), c.metrics.UpstreamRetries.Load())
}

func TestNonSuccessStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database locked"}`))
	}))
	defer srv.Close()

	c, timer := newTestClient(t, srv)
	err := c.SaveROIConfig(context.Background(), ROIDocument{Config: roi.DefaultConfig()})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "database locked", se.Message())
	assert.Contains(t, se.Error(), "status: 500")
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, timer.Waits())
}

func TestROIConfigNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.ROIConfig(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestROIConfigMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"line_points":[[1,2],[3,4],[5,6]],"polygon_points":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.ROIConfig(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSaveROIConfigBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	cfg, err := roi.NewConfig([]roi.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, nil)
	require.NoError(t, err)
	require.NoError(t, c.SaveROIConfig(context.Background(), ROIDocument{Config: cfg}))

	assert.Equal(t, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, got["line_points"])
	assert.Equal(t, []any{}, got["polygon_points"])
	assert.NotContains(t, got, "video_width")
}

func TestSnapshotDecodesImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/camera/snapshot", r.URL.Path)
		assert.Equal(t, "1700000000123", r.URL.Query().Get("t"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	got, err := c.Snapshot(context.Background(), time.UnixMilli(1700000000123))
	require.NoError(t, err)
	assert.Equal(t, 8, got.Bounds().Dx())
	assert.Equal(t, 4, got.Bounds().Dy())
	assert.Equal(t, int32(1), hits.Load())
}

func TestSnapshotMakesSingleAttempt(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	flaky := &flakyTransport{next: http.DefaultTransport}
	flaky.failures.Store(5)
	c, timer := newTestClient(t, srv, WithHTTPClient(&http.Client{Transport: flaky}))

	_, err := c.Snapshot(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, int32(1), flaky.calls.Load())
	assert.Empty(t, timer.Waits())
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Snapshot(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCustomersAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/customers":
			_, _ = w.Write([]byte(`[{"id":1,"name":"John Doe","registered_date":"2024-01-01","visit_count":3,"last_visit":"2024-02-01"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/customers/John Doe":
			_, _ = w.Write([]byte(`{"message":"Deleted John Doe"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	profiles, err := c.Customers(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 3, profiles[0].VisitCount)

	msg, err := c.DeleteCustomer(context.Background(), "John Doe")
	require.NoError(t, err)
	assert.Equal(t, "Deleted John Doe", msg)
}

func TestRegisterFaceMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Ann", r.FormValue("name"))
		f, hdr, err := r.FormFile("photo")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "face.jpg", hdr.Filename)
		assert.Equal(t, "jpegbytes", string(data))
		_, _ = w.Write([]byte(`{"message":"Registered Ann"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	msg, err := c.RegisterFace(context.Background(), "Ann", "face.jpg", strings.NewReader("jpegbytes"))
	require.NoError(t, err)
	assert.Equal(t, "Registered Ann", msg)

	_, err = c.RegisterFace(context.Background(), " ", "face.jpg", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestMessageRepliesMustDecode(t *testing.T) {
	var body atomic.Value
	body.Store(`<html>ok</html>`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body.Load().(string)))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.DeleteCustomer(context.Background(), "Ann")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = c.RegisterFace(context.Background(), "Ann", "face.jpg", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrMalformed)

	body.Store("")
	msg, err := c.DeleteCustomer(context.Background(), "Ann")
	require.NoError(t, err)
	assert.Empty(t, msg)
}

func TestContextCancelStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	flaky := &flakyTransport{next: http.DefaultTransport}
	flaky.failures.Store(100)
	c, err := New(srv.URL, WithHTTPClient(&http.Client{Transport: flaky}), WithRetry(3, time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = c.StreamInfo(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), flaky.calls.Load())
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}
