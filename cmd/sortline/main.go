package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/sortline/internal/alerts"
	"github.com/obsidianstack/sortline/internal/api"
	"github.com/obsidianstack/sortline/internal/auth"
	"github.com/obsidianstack/sortline/internal/compute"
	"github.com/obsidianstack/sortline/internal/config"
	"github.com/obsidianstack/sortline/internal/conveyor"
	"github.com/obsidianstack/sortline/internal/dashboard"
	"github.com/obsidianstack/sortline/internal/material"
	"github.com/obsidianstack/sortline/internal/notify"
	"github.com/obsidianstack/sortline/internal/observability"
	"github.com/obsidianstack/sortline/internal/store"
	"github.com/obsidianstack/sortline/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("sortline starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Storage.Backend,
		"period", cfg.Conveyor.Period,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath); err != nil {
		slog.Error("sortline stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("sortline shut down")
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	shutdownTracing, err := observability.InitTracing("sortline", cfg.Tracing.Exporter)
	if err != nil {
		return err
	}
	defer shutdownCtx(shutdownTracing)

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	log := store.New(backend)
	defer log.Close() //nolint:errcheck

	// WebSocket hub: display boundary for snapshots, stages, status and toasts.
	hub := ws.New()

	external, mqttSink := externalNotifiers(cfg.Notify)
	if mqttSink != nil {
		defer mqttSink.Disconnect()
	}
	notifier := notify.Fanout{notify.Logger{}, hub, external}

	alertEngine := alerts.New(cfg.Alerts, notifier)

	filter, err := compute.ParseFilter(cfg.Dashboard.Filter)
	if err != nil {
		return err
	}
	dash := dashboard.New(log, filter, cfg.Dashboard.LogLimit, cfg.Dashboard.RefreshInterval, hub, alertEngine)

	machine := conveyor.NewMachine(newClassifier(cfg.Conveyor.Seed), log, hub, notifier, conveyor.Timings{
		Detect:   cfg.Conveyor.DetectDelay,
		Classify: cfg.Conveyor.ClassifyDelay,
		Route:    cfg.Conveyor.RouteDelay,
		Cooldown: cfg.Conveyor.Cooldown,
	})
	sched := conveyor.NewScheduler(machine, log, cfg.Conveyor.Period, hub, notifier)
	defer sched.Close()
	hub.Status(sched.Status())

	if cfg.Conveyor.Autostart {
		if err := sched.Start(); err != nil {
			return err
		}
	}

	mutating := auth.MutatingOnly(auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	))
	apiHandler := api.New(api.Deps{
		Log:       log,
		Dashboard: dash,
		Conveyor:  sched,
		Alerts:    alertEngine,
		Notifier:  notifier,
		Clients:   hub.Count,
	}, mutating)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/metrics", apiHandler)
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return dash.Run(gctx) })
	g.Go(func() error {
		return config.Watch(gctx, configPath, func(next *config.Config) {
			if f, err := compute.ParseFilter(next.Dashboard.Filter); err == nil {
				dash.SetFilter(f)
			}
			dash.SetLogLimit(next.Dashboard.LogLimit)
			alertEngine.SetRules(next.Alerts.Rules)
		})
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("sortline shutting down")
		sched.Close()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "postgres":
		pctx, pcancel := context.WithTimeout(ctx, 30*time.Second)
		defer pcancel()
		pg, err := store.OpenPostgres(pctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres event log: %w", err)
		}
		slog.Info("event log backend: postgres")
		return pg, nil
	default:
		slog.Info("event log backend: memory")
		return store.NewMemory(), nil
	}
}

// externalNotifiers builds the webhook and MQTT sinks, filtered to the
// configured severities. The MQTT sink is returned separately so it can be
// disconnected on shutdown.
func externalNotifiers(cfg config.NotifyConfig) (notify.Notifier, *notify.MQTT) {
	var out notify.Fanout
	for _, wc := range cfg.Webhooks {
		if w := notify.NewWebhook(wc); w != nil {
			out = append(out, w)
		} else {
			slog.Warn("notify: webhook URL env var is empty, skipping", "type", wc.Type, "url_env", wc.URLEnv)
		}
	}

	var mq *notify.MQTT
	if cfg.MQTT.Enabled() {
		mq = notify.NewMQTT(cfg.MQTT)
		if err := mq.Connect(); err != nil {
			slog.Warn("notify: mqtt unavailable, notifications will not be published", "err", err)
			mq = nil
		} else {
			out = append(out, mq)
		}
	}

	levels := make([]notify.Severity, 0, len(cfg.Levels))
	for _, l := range cfg.Levels {
		// Validated at load.
		if sev, err := notify.ParseSeverity(l); err == nil {
			levels = append(levels, sev)
		}
	}
	return notify.Levels(out, levels...), mq
}

func newClassifier(seed int64) *material.Classifier {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return material.NewClassifier(rand.New(rand.NewSource(seed)))
}

func shutdownCtx(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("tracing shutdown failed", "err", err)
	}
}
