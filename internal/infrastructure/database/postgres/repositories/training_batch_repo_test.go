package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

func TestTrainingBatchRepo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTrainingBatchRepository(postgres.NewConnectionWithDB(db, nil), nil, nil)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := &coverage.Batch{ID: common.NewID(), SetID: common.NewID(), Source: "md", Configurations: 12, CreatedAt: now}

	mock.ExpectExec("INSERT INTO training_batches").
		WithArgs(string(b.ID), string(b.SetID), "md", 12, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(ctx, b))

	mock.ExpectExec("INSERT INTO training_batches").WillReturnError(&pgconn.PgError{Code: "23505"})
	assert.True(t, errors.IsCode(repo.Save(ctx, b), errors.ErrCodeConflict))

	mock.ExpectQuery("FROM training_batches WHERE set_id = \\$1").
		WithArgs(string(b.SetID)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "set_id", "source", "configurations", "created_at"}).
			AddRow(string(b.ID), string(b.SetID), "md", 12, now))
	got, err := repo.ListBySet(ctx, b.SetID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(assert.AnError))
}
