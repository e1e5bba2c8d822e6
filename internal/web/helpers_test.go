package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/footfall-dashboard/internal/dashboard"
	"github.com/dj-oyu/footfall-dashboard/internal/editor"
	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
	"github.com/dj-oyu/footfall-dashboard/internal/roi"
	"github.com/dj-oyu/footfall-dashboard/internal/store"
	"github.com/dj-oyu/footfall-dashboard/internal/stream"
)

const defaultRequestTimeout = 5 * time.Second

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeUpstream stands in for the remote footfall API.
type fakeUpstream struct {
	mu       sync.Mutex
	doc      footfall.ROIDocument
	saved    []footfall.ROIDocument
	err      error
	deleted  []string
	faces    []string
	limits   []int
	snapshot []byte
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	cfg, err := roi.NewConfig(
		[]roi.Point{{X: 100, Y: 50}, {X: 500, Y: 50}},
		[]roi.Point{{X: 10, Y: 10}, {X: 200, Y: 10}, {X: 200, Y: 150}},
	)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	for y := range 9 {
		for x := range 16 {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return &fakeUpstream{doc: footfall.ROIDocument{Config: cfg}, snapshot: buf.Bytes()}
}

func (f *fakeUpstream) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeUpstream) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeUpstream) Dashboard(_ context.Context, q footfall.Query) (footfall.DashboardStats, error) {
	if err := f.fail(); err != nil {
		return footfall.DashboardStats{}, err
	}
	entries := 12
	if q.Filter == footfall.FilterYesterday {
		entries = 9
	}
	return footfall.DashboardStats{Entries: entries, Exits: 4, CurrentOccupancy: 8, TotalCustomers: 21}, nil
}

func (f *fakeUpstream) Events(_ context.Context, limit int, q footfall.Query) ([]footfall.Event, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if q.StartDate == "2020-01-01" {
		return []footfall.Event{{CustomerName: "bob"}}, nil
	}
	n := min(limit, 3)
	names := []string{"alice", "bob", "carol"}
	out := make([]footfall.Event, n)
	for i := range out {
		out[i] = footfall.Event{ID: i + 1, EventType: "entry", CustomerName: names[i], Timestamp: "2026-03-02T10:00:00"}
	}
	return out, nil
}

func (f *fakeUpstream) Analytics(context.Context, footfall.Query) (footfall.Analytics, error) {
	if err := f.fail(); err != nil {
		return footfall.Analytics{}, err
	}
	return footfall.Analytics{
		DailyOverview:  footfall.Series{Labels: []string{"Mon", "Tue"}, Entries: []float64{5, 7}},
		HourlyAnalysis: footfall.HourlyAnalysis{Labels: []string{"09:00", "10:00"}, Entries: []float64{3, 9}, TotalUniqueCustomers: 11},
	}, nil
}

func (f *fakeUpstream) DailyStats(_ context.Context, days int) ([]footfall.DailyStat, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	out := make([]footfall.DailyStat, days)
	for i := range out {
		out[i] = footfall.DailyStat{Date: fmt.Sprintf("2026-03-%02d", i+1), Entries: 10 + i, Exits: 8 + i}
	}
	return out, nil
}

func (f *fakeUpstream) StreamInfo(context.Context) (footfall.StreamInfo, error) {
	return footfall.StreamInfo{StreamURL: "/hls/live.m3u8", StreamActive: true, Resolution: "1280x720", FPS: 30}, nil
}

func (f *fakeUpstream) ROIConfig(context.Context) (footfall.ROIDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc, nil
}

func (f *fakeUpstream) SaveROIConfig(_ context.Context, doc footfall.ROIDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, doc)
	f.doc = doc
	return nil
}

func (f *fakeUpstream) SnapshotRaw(context.Context, time.Time) ([]byte, string, error) {
	return f.snapshot, "image/png", nil
}

func (f *fakeUpstream) Snapshot(context.Context, time.Time) (image.Image, error) {
	return png.Decode(bytes.NewReader(f.snapshot))
}

func (f *fakeUpstream) Customers(context.Context) ([]footfall.CustomerProfile, error) {
	return []footfall.CustomerProfile{{ID: 1, Name: "alice", VisitCount: 3}}, nil
}

func (f *fakeUpstream) DeleteCustomer(_ context.Context, name string) (string, error) {
	if name == "ghost" {
		return "", &footfall.StatusError{Method: http.MethodDelete, Path: "/api/customers/ghost", Code: http.StatusNotFound, Body: `{"error":"Customer not found"}`}
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, name)
	f.mu.Unlock()
	return "Customer " + name + " deleted", nil
}

func (f *fakeUpstream) RegisterFace(_ context.Context, name, filename string, photo io.Reader) (string, error) {
	data, err := io.ReadAll(photo)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.faces = append(f.faces, fmt.Sprintf("%s:%s:%d", name, filename, len(data)))
	f.mu.Unlock()
	return "Face registered for " + name, nil
}

type testEnv struct {
	baseURL string
	client  *http.Client
	api     *fakeUpstream
	editor  *editor.Manager
	poller  *dashboard.Poller
	metrics *metrics.Metrics
	store   *store.Store
	clock   *clock.Mock
}

type envOption func(*Deps)

func withoutRevisions() envOption {
	return func(d *Deps) { d.Revisions = nil }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	api := newFakeUpstream(t)
	mock := clock.NewMock()
	mt := metrics.New()

	st, err := store.New(filepath.Join(t.TempDir(), "revisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgr := editor.NewManager(api, editor.DefaultOptions(),
		editor.WithClock(mock), editor.WithMetrics(mt), editor.WithRecorder(st))
	t.Cleanup(mgr.Shutdown)

	poller := dashboard.New(api, dashboard.DefaultConfig(), dashboard.WithClock(mock), dashboard.WithMetrics(mt))
	t.Cleanup(poller.Stop)

	mon, err := stream.New(api, "http://127.0.0.1:5000", stream.DefaultConfig(), stream.WithClock(mock), stream.WithMetrics(mt))
	require.NoError(t, err)

	deps := Deps{
		API:       api,
		Editor:    mgr,
		Poller:    poller,
		Stream:    mon,
		Revisions: st,
		Metrics:   mt,
		Clock:     mock,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(NewServer(DefaultConfig(), deps).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		baseURL: srv.URL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		api:     api,
		editor:  mgr,
		poller:  poller,
		metrics: mt,
		store:   st,
		clock:   mock,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return e.do(t, http.MethodGet, path, nil, "")
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return e.do(t, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

// openSession creates an editor session and waits for its config to load.
func (e *testEnv) openSession(t *testing.T) string {
	t.Helper()
	resp, body := e.postJSON(t, "/api/roi/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/roi/sessions status = %d body=%s", resp.StatusCode, body)
	}
	id := requireString(t, decodeJSONMap(t, body)["id"], "id")
	require.Eventually(t, func() bool {
		_, body := e.get(t, "/api/roi/sessions/"+id)
		return decodeJSONMap(t, body)["status"] == string(editor.StatusReady)
	}, 2*time.Second, 5*time.Millisecond)
	return id
}

// readSSEEvent reads the first SSE event from url.
func readSSEEvent(url string, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

// sseField returns the value of the first "name:" line of event.
func sseField(t *testing.T, event, name string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, name+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, name+":"))
		}
	}
	t.Fatalf("no %s line in sse event: %q", name, event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}
