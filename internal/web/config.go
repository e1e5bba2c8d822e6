package web

import (
	"time"
)

// Config defines the runtime configuration for the dashboard web server.
type Config struct {
	Addr          string
	AssetsDir     string
	CORSOrigins   []string
	KeepAlive     time.Duration
	MJPEGIdle     time.Duration
	ReportTimeout time.Duration
	UploadLimit   int64
}

// DefaultConfig returns a config aligned with the browser dashboard.
func DefaultConfig() Config {
	return Config{
		Addr:          ":3000",
		AssetsDir:     "./web/assets",
		CORSOrigins:   []string{"*"},
		KeepAlive:     30 * time.Second,
		MJPEGIdle:     5 * time.Second,
		ReportTimeout: 2 * time.Minute,
		UploadLimit:   10 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.MJPEGIdle <= 0 {
		c.MJPEGIdle = def.MJPEGIdle
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = def.ReportTimeout
	}
	if c.UploadLimit <= 0 {
		c.UploadLimit = def.UploadLimit
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = def.CORSOrigins
	}
	return c
}
