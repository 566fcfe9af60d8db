package milvus

import (
	"context"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// Field names of the coverage collection.
const (
	FieldID      = "id"
	FieldSetID   = "set_id"
	FieldBatchID = "batch_id"
	FieldVector  = "vector"
)

// CollectionConfig holds the index and load settings.
type CollectionConfig struct {
	ShardsNum   int32
	NList       int
	LoadTimeout time.Duration
}

// CollectionManager creates, indexes and loads collections.
type CollectionManager struct {
	sdk    func() client.Client
	config CollectionConfig
	logger logging.Logger
}

func NewCollectionManager(c *Client, cfg CollectionConfig, logger logging.Logger) *CollectionManager {
	return newCollectionManager(c.SDK, cfg, logger)
}

func newCollectionManager(sdk func() client.Client, cfg CollectionConfig, logger logging.Logger) *CollectionManager {
	if cfg.ShardsNum == 0 {
		cfg.ShardsNum = 1
	}
	if cfg.NList == 0 {
		cfg.NList = 128
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CollectionManager{sdk: sdk, config: cfg, logger: logger}
}

// CoverageSchema is one row per training configuration. set_id is the
// partition key, so the per-set filter of a search prunes partitions.
func CoverageSchema(name string) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "training configurations in variable space",
		Fields: []*entity.Field{
			{Name: FieldID, DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
			{Name: FieldSetID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "36"}, IsPartitionKey: true},
			{Name: FieldBatchID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "36"}},
			{Name: FieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(pip.NVars)}},
		},
	}
}

// EnsureCollection creates schema's collection and its vector index when
// missing, then loads it.
func (m *CollectionManager) EnsureCollection(ctx context.Context, schema *entity.Schema) error {
	mc := m.sdk()
	name := schema.CollectionName

	has, err := mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to check collection existence").WithDetail(name)
	}
	if !has {
		if err := mc.CreateCollection(ctx, schema, m.config.ShardsNum); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create collection").WithDetail(name)
		}
		m.logger.Info("Collection created", logging.String("name", name))
	}

	indexes, err := mc.DescribeIndex(ctx, name, FieldVector)
	if err != nil || len(indexes) == 0 {
		idx, ierr := entity.NewIndexIvfFlat(entity.L2, m.config.NList)
		if ierr != nil {
			return errors.Wrap(ierr, errors.ErrCodeValidation, "invalid index parameters")
		}
		if err := mc.CreateIndex(ctx, name, FieldVector, idx, false); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create index").WithDetail(name)
		}
		m.logger.Info("Index created", logging.String("collection", name), logging.Int("nlist", m.config.NList))
	}

	loadCtx, cancel := context.WithTimeout(ctx, m.config.LoadTimeout)
	defer cancel()
	if err := mc.LoadCollection(loadCtx, name, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to load collection").WithDetail(name)
	}
	m.logger.Info("Collection loaded", logging.String("name", name))
	return nil
}

// DropCollection removes name if it exists.
func (m *CollectionManager) DropCollection(ctx context.Context, name string) error {
	mc := m.sdk()
	has, err := mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to check collection existence").WithDetail(name)
	}
	if !has {
		return nil
	}
	if err := mc.DropCollection(ctx, name); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to drop collection").WithDetail(name)
	}
	m.logger.Warn("Collection dropped", logging.String("name", name))
	return nil
}
