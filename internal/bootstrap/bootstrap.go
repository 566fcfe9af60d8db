// Package bootstrap connects the infrastructure named by a Config and
// builds the application services on top of it. Both binaries start here.
package bootstrap

import (
	"context"
	"fmt"

	appcoeff "github.com/turtacn/mbnrg-pip/internal/application/coefficient"
	appcov "github.com/turtacn/mbnrg-pip/internal/application/coverage"
	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/redis"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/search/milvus"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/storage/minio"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/handlers"
)

// NewLogger builds the process logger from cfg and installs it as the
// default.
func NewLogger(cfg logging.LogConfig) (logging.Logger, error) {
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

// NewMetrics returns the registry and the application metrics, or nils
// when metrics are disabled.
func NewMetrics(cfg config.MetricsConfig, logger logging.Logger) (prometheus.MetricsCollector, *prometheus.AppMetrics, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Namespace,
		EnableGoMetrics:      cfg.EnableGoMetrics,
		EnableProcessMetrics: cfg.EnableProcessMetrics,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return collector, prometheus.NewAppMetrics(collector), nil
}

// Infrastructure holds the clients of the enabled sections. A disabled
// section leaves its field nil.
type Infrastructure struct {
	DB     *postgres.Connection
	Redis  *redis.Client
	Blobs  *minio.ObjectStore
	Milvus *milvus.Client

	logger logging.Logger
}

// Connect opens every enabled client, applies the schema migrations when
// database.auto_migrate is set and prepares the coverage collection. On
// error the clients opened so far are closed.
func Connect(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Infrastructure, error) {
	if logger == nil {
		logger = logging.Default()
	}
	infra := &Infrastructure{logger: logger}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.Redis = rc
	}

	if cfg.Database.Enabled {
		if cfg.Database.AutoMigrate {
			if err := infra.migrate(ctx, cfg.Database); err != nil {
				infra.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := postgres.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.DB = db
	}

	if cfg.MinIO.Enabled {
		store, err := minio.NewObjectStore(ctx, cfg.MinIO, logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.Blobs = store
	}

	if cfg.Milvus.Enabled {
		mc, err := milvus.NewClient(milvus.ClientConfigFrom(cfg.Milvus), logger)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("milvus: %w", err)
		}
		infra.Milvus = mc
		cm := milvus.NewCollectionManager(mc, milvus.CollectionConfig{}, logger)
		if err := cm.EnsureCollection(ctx, milvus.CoverageSchema(cfg.Milvus.Collection)); err != nil {
			infra.Close()
			return nil, fmt.Errorf("milvus collection: %w", err)
		}
	}

	logger.Info("Infrastructure initialized",
		logging.Bool("postgres", infra.DB != nil),
		logging.Bool("redis", infra.Redis != nil),
		logging.Bool("minio", infra.Blobs != nil),
		logging.Bool("milvus", infra.Milvus != nil))
	return infra, nil
}

// migrate runs under the shared redis lock when redis is available so
// replicas starting together migrate once.
func (i *Infrastructure) migrate(ctx context.Context, cfg config.DatabaseConfig) error {
	var locker postgres.Locker
	if i.Redis != nil {
		locker = redis.NewMutex(i.Redis, postgres.MigrationLockName, i.logger)
	}
	return postgres.NewMigrator(postgres.BuildDSN(cfg), locker, i.logger).Up(ctx)
}

// Checkers lists the readiness probes of the connected clients.
func (i *Infrastructure) Checkers() []handlers.HealthChecker {
	var out []handlers.HealthChecker
	if i.DB != nil {
		out = append(out, i.DB)
	}
	if i.Redis != nil {
		out = append(out, i.Redis)
	}
	if i.Blobs != nil {
		out = append(out, i.Blobs)
	}
	if i.Milvus != nil {
		out = append(out, i.Milvus)
	}
	return out
}

type closer struct {
	name string
	fn   func() error
}

// Close closes the clients in reverse order of Connect.
func (i *Infrastructure) Close() {
	var closers []closer
	if i.Milvus != nil {
		closers = append(closers, closer{"milvus", i.Milvus.Close})
	}
	if i.Blobs != nil {
		closers = append(closers, closer{"minio", i.Blobs.Close})
	}
	if i.DB != nil {
		closers = append(closers, closer{"postgres", i.DB.Close})
	}
	if i.Redis != nil {
		closers = append(closers, closer{"redis", i.Redis.Close})
	}
	for _, c := range closers {
		if err := c.fn(); err != nil {
			i.logger.Warn("Close failed", logging.String("component", c.name), logging.Err(err))
		}
	}
}

// Services are the application services a binary exposes. Coefficients is
// nil without postgres and minio; Coverage additionally needs milvus.
type Services struct {
	Evaluation   evaluation.Service
	Coefficients appcoeff.Service
	Coverage     appcov.Service
}

// NewServices builds the services the connected infrastructure supports.
func NewServices(cfg *config.Config, infra *Infrastructure, logger logging.Logger, metrics *prometheus.AppMetrics) (*Services, error) {
	if logger == nil {
		logger = logging.Default()
	}
	svcs := &Services{}

	var index coverage.Index
	if infra.Milvus != nil {
		index = milvus.NewCoverageIndex(infra.Milvus, milvus.IndexConfig{
			Collection: cfg.Milvus.Collection,
			NProbe:     cfg.Milvus.NProbe,
		}, logger, metrics)
	}

	if infra.DB != nil && infra.Blobs != nil {
		deps := appcoeff.Deps{
			Repo:           repositories.NewCoefficientSetRepository(infra.DB, logger, metrics),
			Blobs:          infra.Blobs,
			Coverage:       index,
			Logger:         logger,
			Metrics:        metrics,
			LocalCacheSize: cfg.Evaluation.LocalCacheSize,
		}
		if infra.Redis != nil {
			deps.Cache = redis.NewSetCache(infra.Redis, cfg.Redis.DefaultTTL, logger)
		}
		coeffSvc, err := appcoeff.NewService(deps)
		if err != nil {
			return nil, err
		}
		svcs.Coefficients = coeffSvc

		if index != nil {
			covSvc, err := appcov.NewService(appcov.Deps{
				Sets:    coeffSvc,
				Repo:    repositories.NewTrainingBatchRepository(infra.DB, logger, metrics),
				Index:   index,
				Logger:  logger,
				Metrics: metrics,
			})
			if err != nil {
				return nil, err
			}
			svcs.Coverage = covSvc
		}
	} else if infra.DB != nil || infra.Blobs != nil {
		logger.Warn("Coefficient storage needs both database and minio; stored sets are disabled")
	}

	evalDeps := evaluation.Deps{
		Options: evaluation.Options{
			Concurrency:  cfg.Evaluation.Concurrency,
			MaxBatchSize: cfg.Evaluation.MaxBatchSize,
			Timeout:      cfg.Evaluation.Timeout,
			Threshold:    cfg.Milvus.Threshold,
		},
		Logger:  logger,
		Metrics: metrics,
	}
	if svcs.Coefficients != nil {
		evalDeps.Sets = svcs.Coefficients
		evalDeps.Coverage = index
	}
	svcs.Evaluation = evaluation.NewService(evalDeps)
	return svcs, nil
}
