package footfall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
)

const maxBodyBytes = 32 << 20

// Client talks to the remote footfall API. Transport failures are retried
// with exponential backoff; any HTTP response, including non-2xx, ends the
// call.
type Client struct {
	base        *url.URL
	http        *http.Client
	maxAttempts int
	retryBase   time.Duration
	metrics     *metrics.Metrics
	newTimer    func() backoff.Timer
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the attempt cap and the first backoff delay. Delays double
// on each retry.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.retryBase = base
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	c := &Client{
		base:        u,
		http:        &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		retryBase:   time.Second,
		metrics:     metrics.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string, query url.Values) string {
	s := c.base.String() + path
	if len(query) > 0 {
		s += "?" + query.Encode()
	}
	return s
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.retryBase << uint(c.maxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	// single disables retries; used where the caller runs its own retry loop.
	single bool
}

type response struct {
	body   []byte
	header http.Header
}

func (c *Client) do(ctx context.Context, r request) (response, error) {
	var (
		out      response
		attempts int
		target   = c.endpoint(r.path, r.query)
		start    = time.Now()
	)

	op := func() error {
		attempts++
		c.metrics.UpstreamRequests.Add(1)

		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, target, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&StatusError{
				Method: r.method,
				Path:   r.path,
				Code:   resp.StatusCode,
				Body:   string(data),
			})
		}
		out = response{body: data, header: resp.Header}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.metrics.UpstreamRetries.Add(1)
		logger.Warn("Footfall", "%s %s failed (attempt %d/%d), retrying in %s: %v",
			r.method, r.path, attempts, c.maxAttempts, wait, err)
	}

	var err error
	switch {
	case r.single:
		err = op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	case c.newTimer != nil:
		err = backoff.RetryNotifyWithTimer(op, c.policy(ctx), notify, c.newTimer())
	default:
		err = backoff.RetryNotify(op, c.policy(ctx), notify)
	}
	c.metrics.ObserveUpstream(start, err)

	if err != nil {
		var se *StatusError
		if !errors.As(err, &se) && ctx.Err() == nil && !r.single {
			err = &RetryError{Attempts: attempts, Err: err}
		}
		logger.Debug("Footfall", "%s %s failed: %v", r.method, r.path, err)
		return response{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return nil
}

// Dashboard fetches aggregate stats for q.
func (c *Client) Dashboard(ctx context.Context, q Query) (DashboardStats, error) {
	var out DashboardStats
	err := c.getJSON(ctx, "/api/dashboard", q.values(), &out)
	return out, err
}

// Events lists up to limit events for q, newest first. A zero limit lets
// the API choose.
func (c *Client) Events(ctx context.Context, limit int, q Query) ([]Event, error) {
	v := q.values()
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var out []Event
	if err := c.getJSON(ctx, "/api/events", v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Analytics fetches daily and hourly aggregates for q.
func (c *Client) Analytics(ctx context.Context, q Query) (Analytics, error) {
	var out Analytics
	err := c.getJSON(ctx, "/api/analytics", q.values(), &out)
	return out, err
}

// DailyStats fetches the last days of per-day totals.
func (c *Client) DailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	v := url.Values{}
	v.Set("days", strconv.Itoa(days))
	var out []DailyStat
	if err := c.getJSON(ctx, "/api/daily-stats", v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamInfo fetches the live stream description.
func (c *Client) StreamInfo(ctx context.Context) (StreamInfo, error) {
	var out StreamInfo
	err := c.getJSON(ctx, "/api/stream-info", nil, &out)
	return out, err
}

// ROIConfig loads and validates the persisted ROI configuration.
func (c *Client) ROIConfig(ctx context.Context) (ROIDocument, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/api/roi-config"})
	if err != nil {
		return ROIDocument{}, err
	}
	return DecodeROIConfig(resp.body)
}

// SaveROIConfig persists doc. A non-2xx answer is returned as *StatusError.
func (c *Client) SaveROIConfig(ctx context.Context, doc ROIDocument) error {
	body, err := EncodeROIConfig(doc)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/roi-config",
		body:        body,
		contentType: "application/json",
	})
	return err
}

// SnapshotRaw fetches one camera still, cache-busted with at. It makes a
// single attempt.
func (c *Client) SnapshotRaw(ctx context.Context, at time.Time) ([]byte, string, error) {
	v := url.Values{}
	v.Set("t", strconv.FormatInt(at.UnixMilli(), 10))
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/api/camera/snapshot", query: v, single: true})
	if err != nil {
		return nil, "", err
	}
	ct := resp.header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(resp.body)
	}
	return resp.body, ct, nil
}

// Snapshot fetches and decodes one camera still.
func (c *Client) Snapshot(ctx context.Context, at time.Time) (image.Image, error) {
	data, _, err := c.SnapshotRaw(ctx, at)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformed, err)
	}
	logger.Debug("Footfall", "snapshot decoded (%s %dx%d)", format, img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Customers lists registered face profiles.
func (c *Client) Customers(ctx context.Context) ([]CustomerProfile, error) {
	var out []CustomerProfile
	if err := c.getJSON(ctx, "/api/customers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type messageBody struct {
	Message string `json:"message"`
}

// decodeMessage reads a {"message": ...} reply. An empty body is an empty
// message.
func decodeMessage(path string, body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	var out messageBody
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return out.Message, nil
}

// DeleteCustomer removes a face profile and returns the service's message.
func (c *Client) DeleteCustomer(ctx context.Context, name string) (string, error) {
	path := "/api/customers/" + url.PathEscape(name)
	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   path,
	})
	if err != nil {
		return "", err
	}
	return decodeMessage(path, resp.body)
}

// RegisterFace uploads a named photo for recognition.
func (c *Client) RegisterFace(ctx context.Context, name, filename string, photo io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name is required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, photo); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/faces/register",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	return decodeMessage("/api/faces/register", resp.body)
}
