package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

const coefficientSetColumns = `id, name, ion, description, params, switch, checksum, basis_signature, object_key, created_at, updated_at, version`

type coefficientSetRepo struct {
	conn    *postgres.Connection
	log     logging.Logger
	metrics *prometheus.AppMetrics
}

// NewCoefficientSetRepository returns a coefficient.Repository. metrics
// may be nil.
func NewCoefficientSetRepository(conn *postgres.Connection, log logging.Logger, metrics *prometheus.AppMetrics) coefficient.Repository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &coefficientSetRepo{conn: conn, log: log, metrics: metrics}
}

func (r *coefficientSetRepo) executor() queryExecutor {
	return r.conn.DB()
}

func (r *coefficientSetRepo) Save(ctx context.Context, s *coefficient.Set) (err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "coefficient_set_save", start, err) }()

	params, err := json.Marshal(s.Params)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode params")
	}
	sw, err := json.Marshal(s.Switch)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode switch")
	}

	query := `
		INSERT INTO coefficient_sets (` + coefficientSetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			ion = EXCLUDED.ion,
			description = EXCLUDED.description,
			params = EXCLUDED.params,
			switch = EXCLUDED.switch,
			checksum = EXCLUDED.checksum,
			basis_signature = EXCLUDED.basis_signature,
			object_key = EXCLUDED.object_key,
			updated_at = EXCLUDED.updated_at,
			version = coefficient_sets.version + 1
		RETURNING version
	`
	err = r.executor().QueryRowContext(ctx, query,
		string(s.ID), s.Name, s.Ion, s.Description, params, sw,
		s.Checksum, s.BasisSignature, s.ObjectKey, s.CreatedAt, s.UpdatedAt, s.Version,
	).Scan(&s.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.New(errors.ErrCodeConflict, "coefficient set name already exists").WithDetail(s.Name)
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save coefficient set")
	}
	r.log.Debug("coefficient set saved", logging.String("id", string(s.ID)), logging.Int("version", s.Version))
	return nil
}

func (r *coefficientSetRepo) FindByID(ctx context.Context, id common.ID) (_ *coefficient.Summary, err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "coefficient_set_find", start, err) }()

	query := `SELECT ` + coefficientSetColumns + ` FROM coefficient_sets WHERE id = $1`
	sum, err := scanCoefficientSet(r.executor().QueryRowContext(ctx, query, string(id)))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrCodeCoeffSetNotFound, "coefficient set not found").WithDetail(string(id))
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load coefficient set")
	}
	return sum, nil
}

func (r *coefficientSetRepo) List(ctx context.Context, page common.Pagination) (_ []*coefficient.Summary, _ int64, err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "coefficient_set_list", start, err) }()
	page = page.Normalize()

	var total int64
	if err = r.executor().QueryRowContext(ctx, `SELECT COUNT(*) FROM coefficient_sets`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count coefficient sets")
	}

	query := `SELECT ` + coefficientSetColumns + ` FROM coefficient_sets ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	rows, err := r.executor().QueryContext(ctx, query, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list coefficient sets")
	}
	defer rows.Close()

	out := make([]*coefficient.Summary, 0, page.PageSize)
	for rows.Next() {
		sum, err := scanCoefficientSet(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan coefficient set")
		}
		out = append(out, sum)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list coefficient sets")
	}
	return out, total, nil
}

func (r *coefficientSetRepo) Delete(ctx context.Context, id common.ID) (err error) {
	start := time.Now()
	defer func() { observe(r.metrics, "coefficient_set_delete", start, err) }()

	res, err := r.executor().ExecContext(ctx, `DELETE FROM coefficient_sets WHERE id = $1`, string(id))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete coefficient set")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrCodeCoeffSetNotFound, "coefficient set not found").WithDetail(string(id))
	}
	return nil
}

func scanCoefficientSet(row scanner) (*coefficient.Summary, error) {
	var (
		s          coefficient.Summary
		id         string
		params, sw []byte
	)
	err := row.Scan(&id, &s.Name, &s.Ion, &s.Description, &params, &sw,
		&s.Checksum, &s.BasisSignature, &s.ObjectKey, &s.CreatedAt, &s.UpdatedAt, &s.Version)
	if err != nil {
		return nil, err
	}
	s.ID = common.ID(id)
	if err := json.Unmarshal(params, &s.Params); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sw, &s.Switch); err != nil {
		return nil, err
	}
	return &s, nil
}
