// Command fleetd runs the robot fleet service: the REST and WebSocket API,
// the robot uplink, and the background monitors that keep fleet state fresh.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/robofleet/robofleet/internal/a2a"
	"github.com/robofleet/robofleet/internal/alerts"
	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/hub"
	"github.com/robofleet/robofleet/internal/isaac"
	"github.com/robofleet/robofleet/internal/journal"
	"github.com/robofleet/robofleet/internal/mlflow"
	"github.com/robofleet/robofleet/internal/policy"
	"github.com/robofleet/robofleet/internal/probe"
	"github.com/robofleet/robofleet/internal/service"
	"github.com/robofleet/robofleet/internal/store"
	"github.com/robofleet/robofleet/internal/telemetry"
	"github.com/robofleet/robofleet/internal/transport/http/api"
	"github.com/robofleet/robofleet/internal/transport/http/internalapi"
	"github.com/robofleet/robofleet/internal/transport/ws"
	"github.com/robofleet/robofleet/internal/vla"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	log.Info("starting fleetd",
		"http_addr", cfg.HTTPAddr,
		"internal_addr", cfg.InternalAddr,
		"db_path", cfg.DatabasePath,
		"vla_model", cfg.VLA.ModelType)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	tstore := telemetry.New(cfg.OfflineAfter, cfg.TelemetryRing)
	go tstore.Run(ctx)

	h := hub.New()
	go h.Run(ctx)

	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyPath)
	if err != nil {
		log.Error("policy init failed", "err", err)
		os.Exit(1)
	}

	alertEngine := alerts.NewEngine(nil)
	if cfg.RulesPath != "" {
		rs, err := alerts.LoadRules(cfg.RulesPath)
		if err != nil {
			log.Error("alert rules load failed", "path", cfg.RulesPath, "err", err)
			os.Exit(1)
		}
		alertEngine.SetRules(rs)
		go func() {
			if err := alerts.Watch(ctx, cfg.RulesPath, alertEngine.SetRules); err != nil {
				log.Error("alert rules watcher stopped", "err", err)
			}
		}()
	}

	vlaEngine, err := vla.NewEngine(cfg.VLA, log)
	if err != nil {
		log.Error("vla engine init failed", "err", err)
		os.Exit(1)
	}
	if cfg.VLA.PreloadOnStartup {
		if err := vlaEngine.Load(ctx); err != nil {
			log.Warn("vla preload failed", "model_type", cfg.VLA.ModelType, "err", err)
		}
	}

	jr := journal.New(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	defer jr.Close()
	if jr.Enabled() {
		log.Info("kafka journal enabled", "topic", cfg.KafkaTopic)
	}

	// An empty MLflow URL leaves the registry routes answering 503.
	var registry *mlflow.Client
	if cfg.MLflowURL != "" {
		registry = mlflow.NewClient(cfg.MLflowURL, cfg.MLflowTimeout)
	}

	svc := service.New(service.Deps{
		Store:     db,
		Telemetry: tstore,
		Hub:       h,
		Policy:    policyEngine,
		Alerts:    alertEngine,
		A2A:       a2a.NewClient(0),
		Isaac:     isaac.NewClient(cfg.IsaacURL, cfg.IsaacTimeout),
		MLflow:    registry,
		VLA:       vlaEngine,
		Journal:   jr,
		Prober:    probe.New(0),
		Config:    cfg,
		Log:       log,
	})

	go svc.RunOfflineSweep(ctx)
	go svc.RunCommandTimeoutMonitor(ctx)
	go svc.RunProbeLoop(ctx)
	go svc.RunSyntheticPoller(ctx)
	go svc.RunAgentHealthMonitor(ctx)

	external := echo.New()
	external.HideBanner = true
	external.Use(middleware.Logger())
	external.Use(middleware.Recover())
	external.Use(middleware.CORS())

	api.NewHandler(svc, cfg).RegisterRoutes(external)

	wsServer := ws.NewServer(cfg, h, svc, log)
	external.GET("/ws/robot", wsServer.HandleRobot)
	external.GET("/ws/fleet", wsServer.HandleFleet)
	external.GET("/ws/a2a", wsServer.HandleA2A)

	if cfg.UIDir != "" {
		// Serve the dashboard bundle, falling back to index.html so
		// client-side routes survive a reload.
		external.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return strings.HasPrefix(p, "/api") || strings.HasPrefix(p, "/ws") || p == "/healthz"
			},
			Root:  cfg.UIDir,
			Index: "index.html",
			HTML5: true,
		}))
	}

	internalSrv := echo.New()
	internalSrv.HideBanner = true
	internalSrv.Use(middleware.Recover())
	internalapi.NewHandler().RegisterRoutes(internalSrv)

	go func() {
		if err := external.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Error("api server failed", "err", err)
			os.Exit(1)
		}
	}()
	go func() {
		if err := internalSrv.Start(cfg.InternalAddr); err != nil && err != http.ErrServerClosed {
			log.Error("internal server failed", "err", err)
			os.Exit(1)
		}
	}()

	log.Info("fleet api listening", "addr", cfg.HTTPAddr)
	log.Info("internal api listening", "addr", cfg.InternalAddr)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := external.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", "err", err)
	}
	if err := internalSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("internal server shutdown failed", "err", err)
	}

	log.Info("fleetd stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
