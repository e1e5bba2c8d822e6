package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	// HTTP surface
	Addr        string
	AssetsDir   string
	CORSOrigins []string

	// Remote footfall API
	APIBaseURL     string
	APITimeout     time.Duration
	APIMaxAttempts int
	APIRetryBase   time.Duration

	// ROI editor
	SnapshotInterval   time.Duration
	SnapshotRetryDelay time.Duration
	SessionIdleTimeout time.Duration
	FrameJPEGQuality   int

	// Dashboard polling
	DashboardRefreshInterval time.Duration
	DashboardRetryDelay      time.Duration
	EventsPageSize           int
	EventsPageStep           int

	// Live stream monitoring
	StreamHealthInterval time.Duration
	StreamRetryDelay     time.Duration
	StreamMaxRetries     int

	// ROI revision history; empty disables it
	RevisionDBPath string

	// NATS; empty URL disables messaging
	NatsURL            string
	NatsEventsSubject  string
	NatsROISubject     string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int

	// Logging
	LogLevel string
	LogColor bool
	LogJSON  bool
	LogFile  string

	ShutdownTimeout time.Duration
}

// DefaultConfig returns a config aligned with the browser dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":3000",
		AssetsDir:   "./web/assets",
		CORSOrigins: []string{"*"},

		APIBaseURL:     "http://localhost:5000",
		APITimeout:     10 * time.Second,
		APIMaxAttempts: 3,
		APIRetryBase:   time.Second,

		SnapshotInterval:   3 * time.Second,
		SnapshotRetryDelay: 2 * time.Second,
		SessionIdleTimeout: 10 * time.Minute,
		FrameJPEGQuality:   80,

		DashboardRefreshInterval: 60 * time.Second,
		DashboardRetryDelay:      5 * time.Second,
		EventsPageSize:           50,
		EventsPageStep:           100,

		StreamHealthInterval: 30 * time.Second,
		StreamRetryDelay:     3 * time.Second,
		StreamMaxRetries:     10,

		NatsEventsSubject:  "footfall.events",
		NatsROISubject:     "footfall.roi.saved",
		NatsConnectTimeout: 5 * time.Second,
		NatsReconnectWait:  2 * time.Second,
		NatsMaxReconnects:  -1,

		LogLevel: "info",
		LogColor: true,

		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads an optional .env file and overlays environment variables on
// DefaultConfig. The bool reports whether a .env file was applied.
func Load(files ...string) (Config, bool, error) {
	loaded := true
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, false, fmt.Errorf("load env file: %w", err)
		}
		loaded = false
	}
	cfg := FromEnv(DefaultConfig())
	return cfg, loaded, cfg.Validate()
}

// FromEnv overlays environment variables on base.
func FromEnv(base Config) Config {
	c := base
	c.Addr = getEnv("HTTP_ADDR", c.Addr)
	c.AssetsDir = getEnv("ASSETS_DIR", c.AssetsDir)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)

	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.APITimeout = getEnvDuration("API_TIMEOUT", c.APITimeout)
	c.APIMaxAttempts = getEnvInt("API_MAX_ATTEMPTS", c.APIMaxAttempts)
	c.APIRetryBase = getEnvDuration("API_RETRY_BASE", c.APIRetryBase)

	c.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", c.SnapshotInterval)
	c.SnapshotRetryDelay = getEnvDuration("SNAPSHOT_RETRY_DELAY", c.SnapshotRetryDelay)
	c.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout)
	c.FrameJPEGQuality = getEnvInt("FRAME_JPEG_QUALITY", c.FrameJPEGQuality)

	c.DashboardRefreshInterval = getEnvDuration("DASHBOARD_REFRESH_INTERVAL", c.DashboardRefreshInterval)
	c.DashboardRetryDelay = getEnvDuration("DASHBOARD_RETRY_DELAY", c.DashboardRetryDelay)
	c.EventsPageSize = getEnvInt("EVENTS_PAGE_SIZE", c.EventsPageSize)
	c.EventsPageStep = getEnvInt("EVENTS_PAGE_STEP", c.EventsPageStep)

	c.StreamHealthInterval = getEnvDuration("STREAM_HEALTH_INTERVAL", c.StreamHealthInterval)
	c.StreamRetryDelay = getEnvDuration("STREAM_RETRY_DELAY", c.StreamRetryDelay)
	c.StreamMaxRetries = getEnvInt("STREAM_MAX_RETRIES", c.StreamMaxRetries)

	c.RevisionDBPath = getEnv("REVISION_DB_PATH", c.RevisionDBPath)

	c.NatsURL = getEnv("NATS_URL", c.NatsURL)
	c.NatsEventsSubject = getEnv("NATS_EVENTS_SUBJECT", c.NatsEventsSubject)
	c.NatsROISubject = getEnv("NATS_ROI_SUBJECT", c.NatsROISubject)
	c.NatsConnectTimeout = getEnvDuration("NATS_CONNECT_TIMEOUT", c.NatsConnectTimeout)
	c.NatsReconnectWait = getEnvDuration("NATS_RECONNECT_WAIT", c.NatsReconnectWait)
	c.NatsMaxReconnects = getEnvInt("NATS_MAX_RECONNECTS", c.NatsMaxReconnects)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogColor = getEnvBool("LOG_COLOR", c.LogColor)
	c.LogJSON = getEnvBool("LOG_JSON", c.LogJSON)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	return c
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API base URL %q", c.APIBaseURL)
	}
	if c.APIMaxAttempts < 1 {
		return fmt.Errorf("API max attempts must be at least 1, got %d", c.APIMaxAttempts)
	}
	positive := map[string]time.Duration{
		"snapshot interval":          c.SnapshotInterval,
		"snapshot retry delay":       c.SnapshotRetryDelay,
		"dashboard refresh interval": c.DashboardRefreshInterval,
		"dashboard retry delay":      c.DashboardRetryDelay,
		"stream health interval":     c.StreamHealthInterval,
		"stream retry delay":         c.StreamRetryDelay,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.EventsPageSize < 1 || c.EventsPageStep < 1 {
		return fmt.Errorf("events page size and step must be positive")
	}
	if c.FrameJPEGQuality < 1 || c.FrameJPEGQuality > 100 {
		return fmt.Errorf("frame JPEG quality must be within 1..100, got %d", c.FrameJPEGQuality)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
