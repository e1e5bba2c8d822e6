package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/dj-oyu/footfall-dashboard/internal/config"
	"github.com/dj-oyu/footfall-dashboard/internal/dashboard"
	"github.com/dj-oyu/footfall-dashboard/internal/editor"
	"github.com/dj-oyu/footfall-dashboard/internal/footfall"
	"github.com/dj-oyu/footfall-dashboard/internal/logger"
	"github.com/dj-oyu/footfall-dashboard/internal/messaging"
	"github.com/dj-oyu/footfall-dashboard/internal/metrics"
	"github.com/dj-oyu/footfall-dashboard/internal/snapshot"
	"github.com/dj-oyu/footfall-dashboard/internal/store"
	"github.com/dj-oyu/footfall-dashboard/internal/stream"
	"github.com/dj-oyu/footfall-dashboard/internal/web"
)

const (
	flagEnvFile    = "env-file"
	flagAddr       = "http"
	flagAssets     = "assets"
	flagAPI        = "api"
	flagRevisionDB = "revision-db"
	flagNats       = "nats"
	flagLogLevel   = "log-level"
	flagLogColor   = "log-color"
	flagLogJSON    = "log-json"
	flagLogFile    = "log-file"
)

func main() {
	app := &cli.App{
		Name:  "footfall-dashboard",
		Usage: "serve the footfall dashboard and ROI editor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagEnvFile, Value: ".env", Usage: "optional `FILE` of environment settings"},
			&cli.StringFlag{Name: flagAddr, Usage: "HTTP server address (HTTP_ADDR)"},
			&cli.StringFlag{Name: flagAssets, Usage: "web assets directory (ASSETS_DIR)"},
			&cli.StringFlag{Name: flagAPI, Usage: "footfall API base URL (API_BASE_URL)"},
			&cli.StringFlag{Name: flagRevisionDB, Usage: "SQLite `PATH` for ROI revision history (REVISION_DB_PATH)"},
			&cli.StringFlag{Name: flagNats, Usage: "NATS server URL for live events (NATS_URL)"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "log level: debug, info, warn, error, silent (LOG_LEVEL)"},
			&cli.BoolFlag{Name: flagLogColor, Value: true, Usage: "colored console output (LOG_COLOR)"},
			&cli.BoolFlag{Name: flagLogJSON, Usage: "JSON log lines (LOG_JSON)"},
			&cli.StringFlag{Name: flagLogFile, Usage: "rotating log `FILE` (LOG_FILE)"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("footfall-dashboard: %v", err)
	}
}

// loadConfig layers defaults, the env file, the environment and finally
// explicitly set flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, _, err := config.Load(c.String(flagEnvFile))
	if err != nil {
		return cfg, err
	}
	strFlags := map[string]*string{
		flagAddr:       &cfg.Addr,
		flagAssets:     &cfg.AssetsDir,
		flagAPI:        &cfg.APIBaseURL,
		flagRevisionDB: &cfg.RevisionDBPath,
		flagNats:       &cfg.NatsURL,
		flagLogLevel:   &cfg.LogLevel,
		flagLogFile:    &cfg.LogFile,
	}
	for name, dst := range strFlags {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	if c.IsSet(flagLogColor) {
		cfg.LogColor = c.Bool(flagLogColor)
	}
	if c.IsSet(flagLogJSON) {
		cfg.LogJSON = c.Bool(flagLogJSON)
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.InitWithOptions(logger.Options{
		Level: level,
		Color: cfg.LogColor,
		JSON:  cfg.LogJSON,
		File:  cfg.LogFile,
	})
	defer logger.Close()
	if level > logger.DEBUG {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Main", "Footfall dashboard starting...")
	logger.Info("Main", "Log level: %s", level)
	logger.Info("Main", "Footfall API: %s", cfg.APIBaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mt := metrics.New()
	api, err := footfall.New(cfg.APIBaseURL,
		footfall.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		footfall.WithRetry(cfg.APIMaxAttempts, cfg.APIRetryBase),
		footfall.WithMetrics(mt),
	)
	if err != nil {
		return err
	}

	var revisions web.RevisionStore
	editorOpts := []editor.ManagerOption{editor.WithMetrics(mt)}
	if cfg.RevisionDBPath != "" {
		st, err := store.New(cfg.RevisionDBPath)
		if err != nil {
			return fmt.Errorf("revision store: %w", err)
		}
		defer st.Close()
		revisions = st
		editorOpts = append(editorOpts, editor.WithRecorder(st))
		logger.Info("Main", "ROI revision history: %s", st.Path())
	}

	var msg *messaging.Service
	if cfg.NatsURL != "" {
		msg, err = messaging.NewService(cfg)
		if err != nil {
			logger.Warn("Main", "Messaging disabled: %v", err)
		} else {
			editorOpts = append(editorOpts, editor.WithPublisher(msg))
		}
	}

	mgr := editor.NewManager(api, editor.Options{
		Snapshot:    snapshot.Config{Interval: cfg.SnapshotInterval, RetryDelay: cfg.SnapshotRetryDelay},
		IdleTimeout: cfg.SessionIdleTimeout,
		JPEGQuality: cfg.FrameJPEGQuality,
		Style:       editor.DefaultOptions().Style,
	}, editorOpts...)
	mgr.StartJanitor()

	poller := dashboard.New(api, dashboard.Config{
		RefreshInterval: cfg.DashboardRefreshInterval,
		RetryDelay:      cfg.DashboardRetryDelay,
		PageSize:        cfg.EventsPageSize,
		PageStep:        cfg.EventsPageStep,
	}, dashboard.WithMetrics(mt))
	poller.Start(ctx)

	if msg != nil {
		if _, err := msg.SubscribeLive(func(ev messaging.LiveEvent) {
			poller.PushLiveEvent(ev.Kind, ev.Event)
		}); err != nil {
			logger.Warn("Main", "Live event subscription failed: %v", err)
		}
	}

	monitor, err := stream.New(api, cfg.APIBaseURL, stream.Config{
		RetryDelay:     cfg.StreamRetryDelay,
		MaxRetries:     cfg.StreamMaxRetries,
		HealthInterval: cfg.StreamHealthInterval,
		ProbeTimeout:   stream.DefaultConfig().ProbeTimeout,
	}, stream.WithMetrics(mt))
	if err != nil {
		return err
	}
	monitor.Start(ctx)

	webCfg := web.DefaultConfig()
	webCfg.Addr = cfg.Addr
	webCfg.AssetsDir = cfg.AssetsDir
	webCfg.CORSOrigins = cfg.CORSOrigins
	server := web.NewServer(webCfg, web.Deps{
		API:       api,
		Editor:    mgr,
		Poller:    poller,
		Stream:    monitor,
		Revisions: revisions,
		Metrics:   mt,
	})

	httpServer := &http.Server{
		Addr:    webCfg.Addr,
		Handler: server.Handler(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Main", "Dashboard listening on %s", webCfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case err := <-serveErr:
		if err != nil {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	monitor.Stop()
	poller.Stop()
	mgr.Shutdown()
	if msg != nil {
		if err := msg.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Main", "Messaging shutdown: %v", err)
		}
	}

	logger.Info("Main", "Server stopped")
	return nil
}
