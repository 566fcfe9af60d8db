// Package coverage ingests the training configurations of coefficient sets
// so evaluations can report when they extrapolate.
package coverage

import (
	"context"
	"fmt"
	"time"

	domain "github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// DefaultMaxPoints bounds one ingestion.
const DefaultMaxPoints = 100000

type Service interface {
	Ingest(ctx context.Context, in *IngestInput) (*coverage.Batch, error)
	ListBatches(ctx context.Context, setID common.ID) ([]*coverage.Batch, error)
}

// IngestInput carries training configurations either as variables or as
// xyz fragments, never both. Fragments are transformed with the set's own
// parameters.
type IngestInput struct {
	SetID     common.ID
	Source    string
	Variables [][]float64
	Fragments []string
}

type SetSource interface {
	Get(ctx context.Context, id common.ID) (*domain.Set, error)
}

type Deps struct {
	Sets      SetSource
	Repo      coverage.Repository
	Index     coverage.Index
	Logger    logging.Logger
	Metrics   *prometheus.AppMetrics
	MaxPoints int
}

type serviceImpl struct {
	sets      SetSource
	repo      coverage.Repository
	index     coverage.Index
	logger    logging.Logger
	metrics   *prometheus.AppMetrics
	maxPoints int
	now       func() time.Time
}

func NewService(d Deps) (Service, error) {
	if d.Sets == nil || d.Repo == nil || d.Index == nil {
		return nil, errors.New(errors.ErrCodeValidation, "coverage service requires sets, a repository and an index")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.MaxPoints <= 0 {
		d.MaxPoints = DefaultMaxPoints
	}
	return &serviceImpl{
		sets:      d.Sets,
		repo:      d.Repo,
		index:     d.Index,
		logger:    d.Logger.Named("coverage"),
		metrics:   d.Metrics,
		maxPoints: d.MaxPoints,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *serviceImpl) Ingest(ctx context.Context, in *IngestInput) (*coverage.Batch, error) {
	if in == nil {
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "ingest input is required")
	}
	if len(in.Variables) > 0 && len(in.Fragments) > 0 {
		return nil, errors.InvalidParam("variables and fragments are mutually exclusive")
	}
	if n := len(in.Variables) + len(in.Fragments); n > s.maxPoints {
		return nil, errors.New(errors.ErrCodeBatchTooLarge, "too many training configurations").
			WithDetail(fmt.Sprintf("%d, limit %d", n, s.maxPoints))
	}

	set, err := s.sets.Get(ctx, in.SetID)
	if err != nil {
		return nil, err
	}
	points, err := toPoints(set, in)
	if err != nil {
		return nil, err
	}
	batch, err := coverage.NewBatch(set.ID, in.Source, points, s.now())
	if err != nil {
		return nil, err
	}

	// Metadata is written last so a listed batch is always searchable.
	if err := s.index.Insert(ctx, batch, points); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, batch); err != nil {
		s.logger.Warn("Indexed batch without metadata",
			logging.String("batch_id", batch.ID.String()), logging.Err(err))
		return nil, err
	}

	s.logger.Info("Training configurations ingested",
		logging.String("set_id", set.ID.String()),
		logging.String("batch_id", batch.ID.String()),
		logging.Int("configurations", batch.Configurations))
	return batch, nil
}

func (s *serviceImpl) ListBatches(ctx context.Context, setID common.ID) ([]*coverage.Batch, error) {
	if err := setID.Validate(); err != nil {
		return nil, errors.InvalidParam("invalid coefficient set id").WithCause(err)
	}
	return s.repo.ListBySet(ctx, setID)
}

func toPoints(set *domain.Set, in *IngestInput) ([]coverage.Point, error) {
	if len(in.Variables) > 0 {
		points := make([]coverage.Point, len(in.Variables))
		for i, v := range in.Variables {
			if len(v) != pip.NVars {
				return nil, errors.New(errors.ErrCodeVariableCountMismatch, "wrong number of variables").
					WithDetail(fmt.Sprintf("configuration %d: got %d, want %d", i, len(v), pip.NVars))
			}
			copy(points[i][:], v)
		}
		return points, nil
	}

	points := make([]coverage.Point, len(in.Fragments))
	for i, f := range in.Fragments {
		atoms, err := geometry.ParseFragment(f)
		if err != nil {
			return nil, withIndex(err, i)
		}
		c, _, err := geometry.ClusterFromAtoms(atoms)
		if err != nil {
			return nil, withIndex(err, i)
		}
		points[i], _ = geometry.Transform(&c, &set.Params)
	}
	return points, nil
}

func withIndex(err error, i int) error {
	var app *errors.AppError
	if errors.As(err, &app) {
		d := fmt.Sprintf("configuration %d", i)
		if app.Detail != "" {
			d += ": " + app.Detail
		}
		return app.WithDetail(d)
	}
	return err
}
