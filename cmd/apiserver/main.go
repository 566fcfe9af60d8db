// API server entry point: serves the REST API and the gRPC Evaluator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/mbnrg-pip/internal/bootstrap"
	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/mbnrg-pip/internal/interfaces/grpc"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/mbnrg-pip/internal/interfaces/http"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/middleware"
)

// Set by -ldflags at build time.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (MBPIP_* variables apply either way)")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *httpPort, *grpcPort); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, httpPort, grpcPort int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if httpPort > 0 {
		cfg.Server.HTTP.Port = httpPort
	}
	if grpcPort > 0 {
		cfg.Server.GRPC.Port = grpcPort
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("Starting mbpip API server",
		logging.String("version", version),
		logging.String("http_addr", cfg.Server.HTTP.Addr()),
		logging.Bool("grpc", cfg.Server.GRPC.Enabled))

	if configPath != "" {
		_, err := config.Watch(configPath, func(c *config.Config) {
			logging.SetLevel(logger, c.Log.Level)
			logger.Info("Configuration reloaded", logging.String("log_level", c.Log.Level))
		}, func(err error) {
			logger.Warn("Ignoring invalid configuration change", logging.Err(err))
		})
		if err != nil {
			return err
		}
	}

	collector, metrics, err := bootstrap.NewMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	svcs, err := bootstrap.NewServices(cfg, infra, logger, metrics)
	if err != nil {
		return err
	}

	routerCfg := httpserver.RouterConfig{
		Mode:         cfg.Server.HTTP.Mode,
		Version:      version,
		MaxBodySize:  cfg.Server.HTTP.MaxBodySize,
		Evaluation:   svcs.Evaluation,
		Coefficients: svcs.Coefficients,
		Coverage:     svcs.Coverage,
		APIKeys:      cfg.Server.HTTP.APIKeys,
		Checkers:     infra.Checkers(),
		Logger:       logger,
		AppMetrics:   metrics,
		Collector:    collector,
		MetricsPath:  cfg.Metrics.Path,
	}
	if len(cfg.Server.HTTP.CORSOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.HTTP.CORSOrigins
		routerCfg.CORS = &cors
	}
	if limiter := httpserver.DefaultRateLimiter(cfg.Server.HTTP.RateLimitRPS, cfg.Server.HTTP.RateLimitBurst); limiter != nil {
		routerCfg.RateLimiter = limiter
		defer limiter.Stop()
	}
	httpSrv := httpserver.NewServer(cfg.Server.HTTP, httpserver.NewRouter(routerCfg), logger)

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPC.Enabled {
		grpcSrv, err = grpcserver.NewServer(cfg.Server.GRPC,
			grpcserver.WithLogger(logger),
			grpcserver.WithMetrics(metrics),
			grpcserver.WithAPIKeys(cfg.Server.HTTP.APIKeys),
			grpcserver.WithGracefulTimeout(cfg.Server.HTTP.ShutdownTimeout))
		if err != nil {
			return err
		}
		grpcSrv.RegisterService(&services.EvaluatorServiceDesc, services.NewEvaluatorServer(svcs.Evaluation, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
		defer cancel()
		var firstErr error
		if grpcSrv != nil {
			firstErr = grpcSrv.Stop(shutdownCtx)
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	})

	err = g.Wait()
	logger.Info("mbpip API server stopped")
	return err
}
