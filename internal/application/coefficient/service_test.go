package coefficient

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/mbnrg-pip/internal/coeffs"
	domain "github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/testutil"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

type ServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	repo     *testutil.MemoryRepository
	blobs    *testutil.MemoryBlobStore
	cache    *testutil.MemoryCache
	coverage *testutil.MemoryCoverage
	svc      Service
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = testutil.NewMemoryRepository()
	s.blobs = testutil.NewMemoryBlobStore()
	s.cache = testutil.NewMemoryCache()
	s.coverage = testutil.NewMemoryCoverage()
	svc, err := NewService(Deps{
		Repo:           s.repo,
		Blobs:          s.blobs,
		Cache:          s.cache,
		Coverage:       s.coverage,
		LocalCacheSize: 2,
	})
	s.Require().NoError(err)
	s.svc = svc
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) upload(name string, seed int64) *domain.Summary {
	doc, err := coeffs.Encode(testutil.NewSet(name, seed), coeffs.FormatYAML)
	s.Require().NoError(err)
	sum, err := s.svc.Upload(s.ctx, &UploadInput{Data: doc, Format: coeffs.FormatYAML})
	s.Require().NoError(err)
	return sum
}

func (s *ServiceTestSuite) TestUpload_StoresBlobAndMetadata() {
	sum := s.upload("nacl-fit", 1)

	s.NoError(sum.ID.Validate())
	s.Equal("nacl-fit", sum.Name)
	s.Equal(1, sum.Version)
	s.Equal(domain.ObjectKey(sum.ID), sum.ObjectKey)
	s.True(s.blobs.Has(sum.ObjectKey))

	got, err := s.repo.FindByID(s.ctx, sum.ID)
	s.Require().NoError(err)
	s.Equal(sum.Checksum, got.Checksum)
}

func (s *ServiceTestSuite) TestUpload_DatWithOverrides() {
	set := testutil.NewSet("ignored", 2)
	doc, err := coeffs.Encode(set, coeffs.FormatDat)
	s.Require().NoError(err)

	sum, err := s.svc.Upload(s.ctx, &UploadInput{Data: doc, Format: coeffs.FormatDat, Name: " renamed ", Ion: "K", Description: "d"})
	s.Require().NoError(err)
	s.Equal("renamed", sum.Name)
	s.Equal("K", sum.Ion)
	s.Equal("d", sum.Description)
	s.Equal(domain.Checksum(&set.Coefficients), sum.Checksum)
}

func (s *ServiceTestSuite) TestUpload_Rejects() {
	_, err := s.svc.Upload(s.ctx, &UploadInput{})
	s.True(errors.IsCode(err, errors.ErrCodeCoeffParseFailed))

	_, err = s.svc.Upload(s.ctx, &UploadInput{Data: []byte("1\n2\n3\n"), Format: coeffs.FormatDat})
	s.True(errors.IsCode(err, errors.ErrCodeCoeffCountMismatch))
}

func (s *ServiceTestSuite) TestUpload_DuplicateNameRemovesBlob() {
	s.upload("dup", 1)
	doc, err := coeffs.Encode(testutil.NewSet("dup", 2), coeffs.FormatYAML)
	s.Require().NoError(err)

	_, err = s.svc.Upload(s.ctx, &UploadInput{Data: doc})
	s.True(errors.IsCode(err, errors.ErrCodeConflict))

	page, err := s.svc.List(s.ctx, common.Pagination{})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
}

func (s *ServiceTestSuite) TestGet_ReadsThroughTiers() {
	sum := s.upload("tiers", 3)

	set, err := s.svc.Get(s.ctx, sum.ID)
	s.Require().NoError(err)
	s.Equal(sum.ID, set.ID)
	s.True(set.VerifyChecksum())
	s.Equal(1, s.blobs.Reads())
	s.Equal(1, s.cache.Len())

	again, err := s.svc.Get(s.ctx, sum.ID)
	s.Require().NoError(err)
	s.Same(set, again)
	s.Equal(1, s.blobs.Reads())
}

func (s *ServiceTestSuite) TestGet_RedisTierServesAfterLocalEviction() {
	a := s.upload("a", 1)
	b := s.upload("b", 2)
	c := s.upload("c", 3)
	for _, id := range []common.ID{a.ID, b.ID, c.ID} {
		_, err := s.svc.Get(s.ctx, id)
		s.Require().NoError(err)
	}
	s.Equal(3, s.blobs.Reads())

	// a was evicted from the two-entry local tier but is still in redis.
	_, err := s.svc.Get(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(3, s.blobs.Reads())
}

func (s *ServiceTestSuite) TestGet_Errors() {
	_, err := s.svc.Get(s.ctx, "not-a-uuid")
	s.True(errors.IsCode(err, errors.ErrCodeBadRequest))

	_, err = s.svc.Get(s.ctx, common.NewID())
	s.True(errors.IsCode(err, errors.ErrCodeCoeffSetNotFound))
}

func (s *ServiceTestSuite) TestGet_CorruptBlob() {
	sum := s.upload("corrupt", 4)
	other, err := coeffs.Encode(testutil.NewSet("corrupt", 5), coeffs.FormatYAML)
	s.Require().NoError(err)
	s.Require().NoError(s.blobs.Put(s.ctx, sum.ObjectKey, other, ""))

	_, err = s.svc.Get(s.ctx, sum.ID)
	s.True(errors.IsCode(err, errors.ErrCodeCoeffStorageFailed))
}

func (s *ServiceTestSuite) TestDelete_CleansEverything() {
	sum := s.upload("gone", 6)
	_, err := s.svc.Get(s.ctx, sum.ID)
	s.Require().NoError(err)

	b, err := coverage.NewBatch(sum.ID, "test", []coverage.Point{{}}, sum.CreatedAt)
	s.Require().NoError(err)
	s.Require().NoError(s.coverage.Insert(s.ctx, b, []coverage.Point{{}}))

	s.Require().NoError(s.svc.Delete(s.ctx, sum.ID))
	s.False(s.blobs.Has(sum.ObjectKey))
	s.Equal(0, s.cache.Len())
	s.Equal(0, s.coverage.Points(sum.ID))

	_, err = s.svc.Get(s.ctx, sum.ID)
	s.True(errors.IsCode(err, errors.ErrCodeCoeffSetNotFound))
	s.True(errors.IsCode(s.svc.Delete(s.ctx, sum.ID), errors.ErrCodeCoeffSetNotFound))
}

func (s *ServiceTestSuite) TestList_Pages() {
	for i, name := range []string{"p1", "p2", "p3"} {
		s.upload(name, int64(i))
	}
	page, err := s.svc.List(s.ctx, common.Pagination{Page: 2, PageSize: 2})
	s.Require().NoError(err)
	s.Equal(int64(3), page.Total)
	s.Len(page.Items, 1)
	s.Equal(2, page.Page)
}

func TestNewService_RequiresStores(t *testing.T) {
	_, err := NewService(Deps{Repo: testutil.NewMemoryRepository()})
	assert.Error(t, err)
}

func TestGet_SingleflightCollapsesLoads(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	blobs := testutil.NewMemoryBlobStore()
	svc, err := NewService(Deps{Repo: repo, Blobs: blobs, LocalCacheSize: 4})
	require.NoError(t, err)

	doc, err := coeffs.Encode(testutil.NewSet("sf", 9), coeffs.FormatYAML)
	require.NoError(t, err)
	sum, err := svc.Upload(context.Background(), &UploadInput{Data: doc})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Get(context.Background(), sum.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, blobs.Reads(), 16)
	assert.GreaterOrEqual(t, blobs.Reads(), 1)

	_, err = svc.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	reads := blobs.Reads()
	_, err = svc.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	assert.Equal(t, reads, blobs.Reads())
}

func TestLRU(t *testing.T) {
	c := newLRU(2)
	a, b, d := common.NewID(), common.NewID(), common.NewID()
	c.add(a, &domain.Set{ID: a})
	c.add(b, &domain.Set{ID: b})
	_, ok := c.get(a)
	require.True(t, ok)
	c.add(d, &domain.Set{ID: d})

	_, ok = c.get(b)
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.get(a)
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())

	c.remove(a)
	assert.Equal(t, 1, c.len())

	var none *lru
	none.add(a, nil)
	_, ok = none.get(a)
	assert.False(t, ok)
	assert.Nil(t, newLRU(0))
}

func TestNewService_FallsBackToDefaultLogger(t *testing.T) {
	prev := logging.Default()
	t.Cleanup(func() { logging.SetDefault(prev) })
	logger := testutil.NewMockLogger()
	logging.SetDefault(logger)

	svc, err := NewService(Deps{Repo: testutil.NewMemoryRepository(), Blobs: testutil.NewMemoryBlobStore()})
	require.NoError(t, err)
	doc, err := coeffs.Encode(testutil.NewSet("default-logger", 1), coeffs.FormatYAML)
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), &UploadInput{Data: doc, Format: coeffs.FormatYAML})
	require.NoError(t, err)
	assert.True(t, logger.HasMessage("info", "Coefficient set uploaded"))
}
