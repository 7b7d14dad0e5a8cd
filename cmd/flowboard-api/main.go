package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowboard/internal/api"
	"github.com/shaiso/flowboard/internal/config"
	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/nodes"
	"github.com/shaiso/flowboard/internal/repo"
	"github.com/shaiso/flowboard/internal/telemetry"
)

var startTime = time.Now()

func main() {
	configPath := flag.String("config", "", "Path to YAML config (overrides FLOWBOARD_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting flowboard-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: "flowboard-api",
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := repo.Migrate(pool); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	apiCfg := api.Config{
		FlowRepo:     repo.NewFlowRepo(pool),
		PromptRepo:   repo.NewPromptRepo(pool),
		FailureRepo:  repo.NewFailureRepo(pool),
		SettingsRepo: repo.NewSettingsRepo(pool),
		HTTPExecutor: nodes.NewHTTPExecutor(&http.Client{}, cfg.HTTPTimeout),
		Registry:     nodes.DefaultRegistry(),
		Metrics:      telemetry.NewMetrics(nil),
		Logger:       logger,
	}

	// RabbitMQ необязателен: без него события не публикуются.
	if cfg.AMQPURL != "" {
		conn, err := mq.Dial(cfg.AMQPURL, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}
		logger.Debug("rabbitmq topology", "info", mq.TopologyInfo())

		apiCfg.Publisher = mq.NewPublisher(conn, logger)
		logger.Info("event publishing enabled")
	}

	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("stopped")
}
