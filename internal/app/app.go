// Package app wires configuration, logging, persistence, and the HTTP
// surface into a running orchestrator process.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	server "about-last-night/server"
	"about-last-night/server/internal/game/token"
	servernet "about-last-night/server/internal/net"
	"about-last-night/server/internal/store"
	"about-last-night/server/internal/telemetry"
	"about-last-night/server/logging"
	loggingSinks "about-last-night/server/logging/sinks"
)

// Config is read from the environment at startup.
type Config struct {
	Addr           string        `env:"ADDR" envDefault:":8080"`
	AuthToken      string        `env:"AUTH_TOKEN"`
	TokenFile      string        `env:"TOKEN_FILE" envDefault:"data/tokens.json"`
	DatabaseFile   string        `env:"DATABASE_FILE" envDefault:"sessions.db"`
	DebounceWindow time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"100ms"`
	Logger         telemetry.Logger
}

// LoadConfig parses the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Run starts the orchestrator and blocks until the HTTP server exits.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	logConfig := logging.DefaultConfig()
	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console)},
	})
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	catalog, err := token.Load(cfg.TokenFile)
	if err != nil {
		return fmt.Errorf("load token catalog: %w", err)
	}
	telemetryLogger.Printf("loaded %d tokens from %s", catalog.Size(), cfg.TokenFile)

	snapshots, err := store.Open(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer snapshots.Close()

	hubCfg := server.DefaultHubConfig()
	hubCfg.Logger = telemetryLogger
	hubCfg.Publisher = router
	hubCfg.DebounceWindow = cfg.DebounceWindow

	hub := server.NewHub(hubCfg, catalog, snapshots)
	restored, err := hub.RestoreSnapshot()
	if err != nil {
		telemetryLogger.Printf("snapshot restore failed, starting clean: %v", err)
	} else if restored {
		telemetryLogger.Printf("resumed persisted session")
	}

	go hub.RunHeartbeatMonitor(ctx)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		AuthToken: cfg.AuthToken,
		Logger:    fallbackLogger,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	telemetryLogger.Printf("server listening on %s", srv.Addr)

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
