package coverage

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/testutil"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

type stubSets struct{ set *domain.Set }

func (s stubSets) Get(_ context.Context, id common.ID) (*domain.Set, error) {
	if s.set != nil && s.set.ID == id {
		return s.set, nil
	}
	return nil, errors.New(errors.ErrCodeCoeffSetNotFound, "coefficient set not found")
}

func newTestService(t *testing.T) (Service, *domain.Set, *testutil.MemoryCoverage) {
	t.Helper()
	set := testutil.NewSet("fit", 1)
	set.Finalize(time.Now())
	mem := testutil.NewMemoryCoverage()
	svc, err := NewService(Deps{Sets: stubSets{set}, Repo: mem, Index: mem, MaxPoints: 10})
	require.NoError(t, err)
	return svc, set, mem
}

func TestIngest_Variables(t *testing.T) {
	svc, set, mem := newTestService(t)
	rng := rand.New(rand.NewSource(1))
	vars := make([][]float64, 3)
	for i := range vars {
		x := testutil.RandomVariables(rng)
		vars[i] = x[:]
	}

	b, err := svc.Ingest(context.Background(), &IngestInput{SetID: set.ID, Source: "md-300K", Variables: vars})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Configurations)
	assert.Equal(t, "md-300K", b.Source)
	assert.Equal(t, 3, mem.Points(set.ID))

	batches, err := svc.ListBatches(context.Background(), set.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, b.ID, batches[0].ID)
}

func TestIngest_FragmentsUseSetParams(t *testing.T) {
	svc, set, mem := newTestService(t)
	b, err := svc.Ingest(context.Background(), &IngestInput{SetID: set.ID, Fragments: []string{testutil.SampleFragment}})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Configurations)

	c := testutil.SampleCluster(t)
	x, _ := geometry.Transform(&c, &set.Params)
	n, ok, err := mem.Nearest(context.Background(), set.ID, &x)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.0, n.Distance)
}

func TestIngest_Errors(t *testing.T) {
	svc, set, mem := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEvaluationInputMissing))

	_, err = svc.Ingest(ctx, &IngestInput{SetID: set.ID})
	assert.True(t, errors.IsCode(err, errors.ErrCodeEvaluationInputMissing))

	_, err = svc.Ingest(ctx, &IngestInput{SetID: set.ID, Variables: [][]float64{{1}}, Fragments: []string{"x"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))

	_, err = svc.Ingest(ctx, &IngestInput{SetID: set.ID, Variables: make([][]float64, 11)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeBatchTooLarge))

	_, err = svc.Ingest(ctx, &IngestInput{SetID: common.NewID(), Variables: [][]float64{{1}}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeCoeffSetNotFound))

	_, err = svc.Ingest(ctx, &IngestInput{SetID: set.ID, Variables: [][]float64{{1, 2}}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeVariableCountMismatch))

	_, err = svc.Ingest(ctx, &IngestInput{SetID: set.ID, Fragments: []string{testutil.SampleFragment, "O 0 0"}})
	require.True(t, errors.IsCode(err, errors.ErrCodeFragmentParseFailed))
	assert.Contains(t, err.Error(), "configuration 1")

	mem.Err = errors.New(errors.ErrCodeExternalService, "index down")
	_, err = svc.Ingest(ctx, &IngestInput{SetID: set.ID, Fragments: []string{testutil.SampleFragment}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
	batches, err := svc.ListBatches(ctx, set.ID)
	require.NoError(t, err)
	assert.Empty(t, batches, "failed ingestions leave no metadata")
}

func TestListBatches_InvalidID(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ListBatches(context.Background(), "nope")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
