package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/voxform/callstream/internal/bus"
	"github.com/voxform/callstream/internal/config"
	"github.com/voxform/callstream/internal/connection"
	"github.com/voxform/callstream/internal/credentials"
	"github.com/voxform/callstream/internal/database"
	"github.com/voxform/callstream/internal/events"
	"github.com/voxform/callstream/internal/journal"
	"github.com/voxform/callstream/internal/session"
	"github.com/voxform/callstream/internal/transport"
	"github.com/voxform/callstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"token_url", cfg.Hub.TokenURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Token endpoint client
	credClient := credentials.NewClient(
		cfg.Hub.TokenURL,
		cfg.Hub.APIKey,
		credentials.WithLogger(logger),
		credentials.WithTimeout(cfg.Hub.Timeout),
		credentials.WithRetries(cfg.Hub.MaxRetries, time.Second),
	)

	// Outbound bus
	publisher := bus.NewPublisher(bus.Config{
		Addr:     cfg.Bus.Addr,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
		Channel:  cfg.Bus.Channel,
	}, logger)
	if err := publisher.Start(ctx); err != nil {
		logger.Error("failed to start bus publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Event journal (optional)
	var (
		pool *pgxpool.Pool
		jw   *journal.Writer
	)
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Database.Journal.Host,
			"database", cfg.Database.Journal.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Journal)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		jw = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := jw.Start(ctx); err != nil {
			logger.Error("failed to start journal writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			jw.Stop(stopCtx)
		}()
	}

	// Connection manager: the one shared streaming connection to the hub
	mgr := connection.Shared(connection.Config{
		Preflight:            credClient.Ping,
		MaxStartAttempts:     cfg.Connection.MaxStartAttempts,
		StartRetryDelay:      cfg.Connection.StartRetryDelay,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Connection.ReconnectMaxDelay,
		Transport: transport.Config{
			PingInterval: cfg.Connection.PingInterval,
			PingTimeout:  cfg.Connection.PingTimeout,
			WriteTimeout: cfg.Connection.WriteTimeout,
		},
	}, credClient, logger)
	defer mgr.Stop()

	// Subscriptions need a live connection; install them once, on
	// whichever path connects first. They survive reconnects after that.
	var subscribeOnce sync.Once
	subscribe := func() {
		subscribeOnce.Do(func() {
			installSubscriptions(ctx, cfg, mgr, publisher, jw, logger)
		})
	}

	// First connection attempt. "Not ready" and init failures are not
	// fatal: the session watcher keeps asking.
	tr, err := mgr.Initialize(ctx)
	switch {
	case err != nil:
		logger.Error("initial connection failed, will keep probing", "error", err)
	case tr == nil:
		logger.Info("no active call session yet, will keep probing")
	default:
		subscribe()
	}

	// Session watcher: re-checks for a call session while disconnected
	watcher := session.New(session.Config{
		ProbeInterval: cfg.Session.ProbeInterval,
		OnConnect:     subscribe,
	}, mgr, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("failed to start session watcher", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		watcher.Stop(stopCtx)
	}()

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg, mgr, pool, jw),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	if err := g.Wait(); err != nil {
		logger.Error("gateway error", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

// installSubscriptions wires inbound events to the bus and the journal.
func installSubscriptions(
	ctx context.Context,
	cfg *config.GatewayConfig,
	mgr *connection.Manager,
	publisher *bus.Publisher,
	jw *journal.Writer,
	logger *slog.Logger,
) {
	// FormDataExtracted is the one event republished application-wide.
	_, err := mgr.On(events.FormDataExtracted, func(payload json.RawMessage) {
		if err := publisher.PublishFormData(ctx, cfg.Instance.Title, payload); err != nil {
			logger.Error("failed to republish form data", "error", err)
		}
	})
	if err != nil {
		logger.Error("failed to subscribe form data republisher", "error", err)
	}

	_, err = mgr.On(events.ErrorEvent, func(payload json.RawMessage) {
		logger.Warn("hub reported error", "payload", string(payload))
	})
	if err != nil {
		logger.Error("failed to subscribe error logger", "error", err)
	}

	if jw == nil {
		return
	}
	for _, ev := range []string{
		events.FormDataExtracted,
		events.TranscriptSegment,
		events.CallStatus,
	} {
		if _, err := mgr.On(ev, jw.Handler(ev)); err != nil {
			logger.Error("failed to subscribe journal", "event", ev, "error", err)
		}
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	cfg *config.GatewayConfig,
	mgr *connection.Manager,
	pool *pgxpool.Pool,
	jw *journal.Writer,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		health.Components["connection"] = map[string]interface{}{
			"state":              mgr.ConnectionState().String(),
			"connected":          mgr.IsConnected(),
			"reconnect_attempts": mgr.ReconnectAttempts(),
		}
		if !mgr.IsConnected() {
			// Disconnected between calls is normal; only flag it.
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal_db"] = "connected"
			}
		}

		if jw != nil {
			stats := jw.Stats()
			health.Components["journal"] = map[string]interface{}{
				"inserts": stats.Inserts,
				"errors":  stats.Errors,
				"flushes": stats.Flushes,
				"dropped": stats.Dropped,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
