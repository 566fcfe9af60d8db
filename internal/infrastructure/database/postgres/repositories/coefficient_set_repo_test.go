package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/database/postgres"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

var setColumns = []string{
	"id", "name", "ion", "description", "params", "switch", "checksum",
	"basis_signature", "object_key", "created_at", "updated_at", "version",
}

type CoefficientSetRepoTestSuite struct {
	suite.Suite
	mock sqlmock.Sqlmock
	db   *sql.DB
	repo coefficient.Repository
	ctx  context.Context
}

func (s *CoefficientSetRepoTestSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	s.Require().NoError(err)

	conn := postgres.NewConnectionWithDB(s.db, logging.NewNopLogger())
	s.repo = NewCoefficientSetRepository(conn, logging.NewNopLogger(), nil)
	s.ctx = context.Background()
}

func (s *CoefficientSetRepoTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

func (s *CoefficientSetRepoTestSuite) newSet() *coefficient.Set {
	set := coefficient.NewSet("w2-na", "Na+")
	set.Coefficients[0] = 1.5
	set.Finalize(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	return set
}

func (s *CoefficientSetRepoTestSuite) row(set *coefficient.Set) *sqlmock.Rows {
	params, _ := json.Marshal(set.Params)
	sw, _ := json.Marshal(set.Switch)
	return sqlmock.NewRows(setColumns).AddRow(
		string(set.ID), set.Name, set.Ion, set.Description, params, sw, set.Checksum,
		set.BasisSignature, set.ObjectKey, set.CreatedAt, set.UpdatedAt, set.Version,
	)
}

func (s *CoefficientSetRepoTestSuite) TestSave_Insert() {
	set := s.newSet()
	s.mock.ExpectQuery("INSERT INTO coefficient_sets").
		WithArgs(string(set.ID), set.Name, set.Ion, set.Description, sqlmock.AnyArg(), sqlmock.AnyArg(),
			set.Checksum, set.BasisSignature, set.ObjectKey, set.CreatedAt, set.UpdatedAt, 1).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	s.NoError(s.repo.Save(s.ctx, set))
	s.Equal(1, set.Version)
}

func (s *CoefficientSetRepoTestSuite) TestSave_UpdateBumpsVersion() {
	set := s.newSet()
	s.mock.ExpectQuery("ON CONFLICT \\(id\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))

	s.NoError(s.repo.Save(s.ctx, set))
	s.Equal(4, set.Version)
}

func (s *CoefficientSetRepoTestSuite) TestSave_DuplicateName() {
	s.mock.ExpectQuery("INSERT INTO coefficient_sets").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.repo.Save(s.ctx, s.newSet())
	s.True(errors.IsCode(err, errors.ErrCodeConflict))
}

func (s *CoefficientSetRepoTestSuite) TestFindByID() {
	set := s.newSet()
	s.mock.ExpectQuery("SELECT .+ FROM coefficient_sets WHERE id = \\$1").
		WithArgs(string(set.ID)).
		WillReturnRows(s.row(set))

	got, err := s.repo.FindByID(s.ctx, set.ID)
	s.Require().NoError(err)
	s.Equal(set.Summary(), *got)
}

func (s *CoefficientSetRepoTestSuite) TestFindByID_NotFound() {
	s.mock.ExpectQuery("SELECT .+ FROM coefficient_sets").WillReturnError(sql.ErrNoRows)

	_, err := s.repo.FindByID(s.ctx, common.NewID())
	s.True(errors.IsNotFound(err))
}

func (s *CoefficientSetRepoTestSuite) TestFindByID_CorruptParams() {
	set := s.newSet()
	s.mock.ExpectQuery("SELECT .+ FROM coefficient_sets").
		WillReturnRows(sqlmock.NewRows(setColumns).AddRow(
			string(set.ID), set.Name, set.Ion, "", []byte("{"), []byte("{}"), set.Checksum,
			set.BasisSignature, set.ObjectKey, set.CreatedAt, set.UpdatedAt, 1))

	_, err := s.repo.FindByID(s.ctx, set.ID)
	s.True(errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func (s *CoefficientSetRepoTestSuite) TestList() {
	a, b := s.newSet(), s.newSet()
	b.ID, b.Name = common.NewID(), "w2-k"

	s.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM coefficient_sets").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	rows := s.row(a)
	params, _ := json.Marshal(b.Params)
	sw, _ := json.Marshal(b.Switch)
	rows.AddRow(string(b.ID), b.Name, b.Ion, "", params, sw, b.Checksum, b.BasisSignature, b.ObjectKey, b.CreatedAt, b.UpdatedAt, 1)
	s.mock.ExpectQuery("ORDER BY created_at DESC, id LIMIT \\$1 OFFSET \\$2").
		WithArgs(2, 2).
		WillReturnRows(rows)

	got, total, err := s.repo.List(s.ctx, common.Pagination{Page: 2, PageSize: 2})
	s.Require().NoError(err)
	s.Equal(int64(7), total)
	s.Require().Len(got, 2)
	s.Equal("w2-k", got[1].Name)
}

func (s *CoefficientSetRepoTestSuite) TestList_NormalizesPage() {
	s.mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	s.mock.ExpectQuery("SELECT .+ LIMIT").
		WithArgs(common.DefaultPageSize, 0).
		WillReturnRows(sqlmock.NewRows(setColumns))

	got, total, err := s.repo.List(s.ctx, common.Pagination{})
	s.NoError(err)
	s.Zero(total)
	s.Empty(got)
}

func (s *CoefficientSetRepoTestSuite) TestDelete() {
	id := common.NewID()
	s.mock.ExpectExec("DELETE FROM coefficient_sets WHERE id = \\$1").
		WithArgs(string(id)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.NoError(s.repo.Delete(s.ctx, id))

	s.mock.ExpectExec("DELETE FROM coefficient_sets").WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.repo.Delete(s.ctx, id)
	s.True(errors.IsCode(err, errors.ErrCodeCoeffSetNotFound))
}

func TestCoefficientSetRepoTestSuite(t *testing.T) {
	suite.Run(t, new(CoefficientSetRepoTestSuite))
}
