// Worker entry point: evaluates jobs from the request topic and publishes
// their outcomes.
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

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/internal/bootstrap"
	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/handlers"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/worker"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (MBPIP_* variables apply either way)")
	workers := flag.Int("workers", 0, "number of consumers in the group (overrides worker.concurrency)")
	ensureTopics := flag.Bool("ensure-topics", true, "create the request, result and dead-letter topics when missing")
	flag.Parse()

	if err := run(*configPath, *workers, *ensureTopics); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, workers int, ensureTopics bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka.enabled is false; the worker has nothing to consume")
	}
	if workers > 0 {
		cfg.Worker.Concurrency = workers
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("Starting mbpip worker",
		logging.String("version", version),
		logging.Int("consumers", cfg.Worker.Concurrency),
		logging.String("topic", cfg.Kafka.RequestTopic))

	collector, metrics, err := bootstrap.NewMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ensureTopics {
		tm, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
		if err != nil {
			return err
		}
		err = tm.EnsureTopics(ctx, kafka.EvaluationTopics(cfg.Kafka))
		_ = tm.Close()
		if err != nil {
			return err
		}
	}

	infra, err := bootstrap.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	svcs, err := bootstrap.NewServices(cfg, infra, logger, metrics)
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(cfg.Kafka, logger, metrics)
	if err != nil {
		return err
	}
	defer producer.Close()

	consumers := make([]worker.Consumer, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		c, err := kafka.NewConsumer(cfg.Kafka, []string{cfg.Kafka.RequestTopic}, producer, logger, metrics)
		if err != nil {
			for _, prev := range consumers {
				_ = prev.Close()
			}
			return err
		}
		consumers = append(consumers, c)
	}

	handler := worker.NewEvaluationHandler(svcs.Evaluation, producer, cfg.Kafka.ResultTopic, logger)
	runner := worker.NewRunner(consumers, cfg.Kafka.RequestTopic, handler, logger)

	healthSrv := startHealthServer(cfg, infra.Checkers(), collector, metrics, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Health server shutdown error", logging.Err(err))
		}
	}()

	err = runner.Run(ctx, cfg.Worker.ShutdownTimeout)
	stats := runner.Stats()
	logger.Info("mbpip worker stopped",
		logging.Int64("consumed", stats.Consumed),
		logging.Int64("processed", stats.Processed),
		logging.Int64("failed", stats.Failed),
		logging.Int64("dead_lettered", stats.DeadLettered))
	return err
}

// startHealthServer serves liveness, readiness and metrics for the
// orchestrator.
func startHealthServer(cfg *config.Config, checkers []handlers.HealthChecker, collector prometheus.MetricsCollector, metrics *prometheus.AppMetrics, logger logging.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	health := handlers.NewHealthHandler(version, metrics, checkers...)
	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)
	if collector != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(collector.Handler()))
	}

	srv := &http.Server{
		Addr:              cfg.Worker.HealthAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Health server listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server error", logging.Err(err))
		}
	}()
	return srv
}
