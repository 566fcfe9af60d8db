package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// IndexConfig tunes a CoverageIndex.
type IndexConfig struct {
	Collection      string
	NProbe          int
	InsertBatchSize int
}

// CoverageIndex implements coverage.Index on one Milvus collection shared
// by all coefficient sets.
type CoverageIndex struct {
	sdk     func() client.Client
	config  IndexConfig
	logger  logging.Logger
	metrics *prometheus.AppMetrics
}

var _ coverage.Index = (*CoverageIndex)(nil)

func NewCoverageIndex(c *Client, cfg IndexConfig, logger logging.Logger, metrics *prometheus.AppMetrics) *CoverageIndex {
	return newCoverageIndex(c.SDK, cfg, logger, metrics)
}

func newCoverageIndex(sdk func() client.Client, cfg IndexConfig, logger logging.Logger, metrics *prometheus.AppMetrics) *CoverageIndex {
	if cfg.NProbe <= 0 {
		cfg.NProbe = 16
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = 1000
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CoverageIndex{sdk: sdk, config: cfg, logger: logger.Named("coverage"), metrics: metrics}
}

// Insert stores points under b's set and batch, in chunks of
// InsertBatchSize rows.
func (x *CoverageIndex) Insert(ctx context.Context, b *coverage.Batch, points []coverage.Point) (err error) {
	start := time.Now()
	defer func() { prometheus.RecordDBQuery(x.metrics, "milvus", "insert", time.Since(start), err) }()

	if len(points) == 0 {
		return errors.New(errors.ErrCodeEvaluationInputMissing, "no training configurations")
	}
	for lo := 0; lo < len(points); lo += x.config.InsertBatchSize {
		hi := lo + x.config.InsertBatchSize
		if hi > len(points) {
			hi = len(points)
		}
		chunk := points[lo:hi]
		setIDs := make([]string, len(chunk))
		batchIDs := make([]string, len(chunk))
		vectors := make([][]float32, len(chunk))
		for i := range chunk {
			setIDs[i] = b.SetID.String()
			batchIDs[i] = b.ID.String()
			vectors[i] = toFloat32(&chunk[i])
		}
		_, err = x.sdk().Insert(ctx, x.config.Collection, "",
			entity.NewColumnVarChar(FieldSetID, setIDs),
			entity.NewColumnVarChar(FieldBatchID, batchIDs),
			entity.NewColumnFloatVector(FieldVector, pip.NVars, vectors),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to insert training configurations").
				WithDetail(fmt.Sprintf("batch %s, rows %d-%d", b.ID, lo, hi))
		}
	}
	x.logger.Info("Training configurations indexed",
		logging.String("set_id", b.SetID.String()),
		logging.String("batch_id", b.ID.String()),
		logging.Int("count", len(points)))
	return nil
}

// Nearest returns the closest indexed configuration of setID. ok is false
// when the set has none.
func (x *CoverageIndex) Nearest(ctx context.Context, setID common.ID, p *coverage.Point) (n coverage.Neighbor, ok bool, err error) {
	start := time.Now()
	defer func() { prometheus.RecordDBQuery(x.metrics, "milvus", "search", time.Since(start), err) }()

	sp, err := entity.NewIndexIvfFlatSearchParam(x.config.NProbe)
	if err != nil {
		return n, false, errors.Wrap(err, errors.ErrCodeValidation, "invalid search parameters")
	}
	results, err := x.sdk().Search(ctx, x.config.Collection, nil, setFilter(setID),
		[]string{FieldBatchID},
		[]entity.Vector{entity.FloatVector(toFloat32(p))},
		FieldVector, entity.L2, 1, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClSession),
	)
	if err != nil {
		return n, false, errors.Wrap(err, errors.ErrCodeCoverageLookupFailed, "coverage search failed").WithDetail(setID.String())
	}
	if len(results) == 0 || results[0].ResultCount == 0 {
		return n, false, nil
	}
	r := results[0]
	if r.Err != nil {
		return n, false, errors.Wrap(r.Err, errors.ErrCodeCoverageLookupFailed, "coverage search failed").WithDetail(setID.String())
	}

	n.Distance = float64(r.Scores[0])
	if col := r.Fields.GetColumn(FieldBatchID); col != nil {
		if id, cerr := col.GetAsString(0); cerr == nil {
			n.BatchID = common.ID(id)
		}
	}
	return n, true, nil
}

// DeleteSet removes every configuration indexed for setID.
func (x *CoverageIndex) DeleteSet(ctx context.Context, setID common.ID) (err error) {
	start := time.Now()
	defer func() { prometheus.RecordDBQuery(x.metrics, "milvus", "delete", time.Since(start), err) }()

	if err = x.sdk().Delete(ctx, x.config.Collection, "", setFilter(setID)); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to delete training configurations").WithDetail(setID.String())
	}
	x.logger.Info("Training configurations deleted", logging.String("set_id", setID.String()))
	return nil
}

// setFilter quotes id, which Validate has already restricted to a UUID.
func setFilter(id common.ID) string {
	return fmt.Sprintf("%s == %q", FieldSetID, id.String())
}

// Milvus stores float32 vectors; squared distances keep about seven
// significant digits.
func toFloat32(p *coverage.Point) []float32 {
	v := make([]float32, pip.NVars)
	for i, x := range p {
		v[i] = float32(x)
	}
	return v
}
