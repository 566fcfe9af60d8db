package repositories

import (
	"context"
	"time"

	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

type trainingBatchRepo struct {
	conn    *postgres.Connection
	log     logging.Logger
	metrics *prometheus.AppMetrics
}

// NewTrainingBatchRepository returns a coverage.Repository.
func NewTrainingBatchRepository(conn *postgres.Connection, log logging.Logger, metrics *prometheus.AppMetrics) coverage.Repository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &trainingBatchRepo{conn: conn, log: log, metrics: metrics}
}

func (r *trainingBatchRepo) executor() queryExecutor {
	return r.conn.DB()
}

func (r *trainingBatchRepo) Save(ctx context.Context, b *coverage.Batch) (err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "training_batch_save", start, err) }()

	query := `
		INSERT INTO training_batches (id, set_id, source, configurations, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.executor().ExecContext(ctx, query, string(b.ID), string(b.SetID), b.Source, b.Configurations, b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.New(errors.ErrCodeConflict, "training batch already exists").WithDetail(string(b.ID))
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save training batch")
	}
	return nil
}

func (r *trainingBatchRepo) ListBySet(ctx context.Context, setID common.ID) (_ []*coverage.Batch, err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "training_batch_list", start, err) }()

	query := `
		SELECT id, set_id, source, configurations, created_at
		FROM training_batches WHERE set_id = $1 ORDER BY created_at
	`
	rows, err := r.executor().QueryContext(ctx, query, string(setID))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list training batches")
	}
	defer rows.Close()

	var out []*coverage.Batch
	for rows.Next() {
		var (
			b       coverage.Batch
			id, sid string
		)
		if err := rows.Scan(&id, &sid, &b.Source, &b.Configurations, &b.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan training batch")
		}
		b.ID, b.SetID = common.ID(id), common.ID(sid)
		out = append(out, &b)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list training batches")
	}
	return out, nil
}
