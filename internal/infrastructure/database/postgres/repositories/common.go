// Package repositories implements the domain repositories on PostgreSQL.
package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
)

// queryExecutor abstracts sql.DB and sql.Tx
type queryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner abstracts sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const codeUniqueViolation = "23505"

// isUniqueViolation recognizes the error of either registered driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == codeUniqueViolation
	}
	return false
}

func observe(m *prometheus.AppMetrics, op string, start time.Time, err error) {
	prometheus.RecordDBQuery(m, "postgres", op, time.Since(start), err)
}
