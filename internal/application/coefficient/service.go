// Package coefficient is the application service for stored coefficient
// sets. Documents live in object storage, metadata in the relational store,
// and decoded sets in a two-tier cache (process LRU, then redis).
package coefficient

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/mbnrg-pip/internal/coeffs"
	domain "github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// Service manages coefficient sets.
type Service interface {
	Upload(ctx context.Context, in *UploadInput) (*domain.Summary, error)

	// Get returns the complete set. The result is shared between callers
	// and must not be modified.
	Get(ctx context.Context, id common.ID) (*domain.Set, error)

	Describe(ctx context.Context, id common.ID) (*domain.Summary, error)
	List(ctx context.Context, page common.Pagination) (*common.PageResponse[*domain.Summary], error)
	Delete(ctx context.Context, id common.ID) error
}

// UploadInput is a raw coefficient document. Non-empty Name, Ion and
// Description override the document's own values.
type UploadInput struct {
	Data        []byte
	Format      coeffs.Format
	Name        string
	Ion         string
	Description string
}

// Deps are the collaborators of the service. Cache and Coverage are
// optional.
type Deps struct {
	Repo     domain.Repository
	Blobs    domain.BlobStore
	Cache    domain.Cache
	Coverage coverage.Index
	Logger   logging.Logger
	Metrics  *prometheus.AppMetrics

	// LocalCacheSize bounds the process-local tier; 0 disables it.
	LocalCacheSize int
}

type serviceImpl struct {
	repo     domain.Repository
	blobs    domain.BlobStore
	cache    domain.Cache
	coverage coverage.Index
	local    *lru
	group    singleflight.Group
	logger   logging.Logger
	metrics  *prometheus.AppMetrics
	now      func() time.Time
}

func NewService(d Deps) (Service, error) {
	if d.Repo == nil || d.Blobs == nil {
		return nil, errors.New(errors.ErrCodeValidation, "coefficient service requires a repository and a blob store")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return &serviceImpl{
		repo:     d.Repo,
		blobs:    d.Blobs,
		cache:    d.Cache,
		coverage: d.Coverage,
		local:    newLRU(d.LocalCacheSize),
		logger:   d.Logger.Named("coefficient"),
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *serviceImpl) Upload(ctx context.Context, in *UploadInput) (*domain.Summary, error) {
	if in == nil || len(in.Data) == 0 {
		return nil, errors.New(errors.ErrCodeCoeffParseFailed, "empty coefficient document")
	}
	f := in.Format
	if f == "" {
		f = coeffs.FormatYAML
	}
	set, err := coeffs.Decode(in.Data, f)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(in.Name); v != "" {
		set.Name = v
	}
	if v := strings.TrimSpace(in.Ion); v != "" {
		set.Ion = v
	}
	if v := strings.TrimSpace(in.Description); v != "" {
		set.Description = v
	}
	set.Finalize(s.now())

	// The canonical YAML form is stored whatever the upload format was.
	doc, err := coeffs.Encode(set, coeffs.FormatYAML)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Put(ctx, set.ObjectKey, doc, coeffs.FormatYAML.ContentType()); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, set); err != nil {
		if derr := s.blobs.Delete(ctx, set.ObjectKey); derr != nil {
			s.logger.Warn("Orphaned coefficient document", logging.String("key", set.ObjectKey), logging.Err(derr))
		}
		return nil, err
	}
	s.forget(ctx, set.ID)

	s.logger.Info("Coefficient set uploaded",
		logging.String("set_id", set.ID.String()),
		logging.String("name", set.Name),
		logging.String("format", string(f)))
	sum := set.Summary()
	return &sum, nil
}

func (s *serviceImpl) Get(ctx context.Context, id common.ID) (*domain.Set, error) {
	if err := id.Validate(); err != nil {
		return nil, errors.InvalidParam("invalid coefficient set id").WithCause(err)
	}
	if set, ok := s.local.get(id); ok {
		prometheus.RecordCacheAccess(s.metrics, "local", true)
		return set, nil
	}
	prometheus.RecordCacheAccess(s.metrics, "local", false)

	v, err, _ := s.group.Do(string(id), func() (interface{}, error) {
		set, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		s.local.add(id, set)
		prometheus.RecordSetsLoaded(s.metrics, "local", s.local.len())
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Set), nil
}

// load reads through the redis tier to the stores.
func (s *serviceImpl) load(ctx context.Context, id common.ID) (*domain.Set, error) {
	if s.cache != nil {
		set, err := s.cache.Get(ctx, id)
		switch {
		case err == nil:
			prometheus.RecordCacheAccess(s.metrics, "redis", true)
			return set, nil
		case !errors.Is(err, domain.ErrCacheMiss):
			s.logger.Warn("Coefficient cache read failed", logging.String("set_id", id.String()), logging.Err(err))
		}
		prometheus.RecordCacheAccess(s.metrics, "redis", false)
	}

	sum, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, sum.ObjectKey)
	if err != nil {
		return nil, err
	}
	set, err := coeffs.Decode(data, coeffs.FormatYAML)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCoeffStorageFailed, "stored coefficient document is unreadable").WithDetail(sum.ObjectKey)
	}
	applySummary(set, sum)
	if !set.VerifyChecksum() {
		return nil, errors.New(errors.ErrCodeCoeffStorageFailed, "stored coefficients do not match their checksum").WithDetail(id.String())
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, set); err != nil {
			s.logger.Warn("Coefficient cache write failed", logging.String("set_id", id.String()), logging.Err(err))
		}
	}
	return set, nil
}

func applySummary(set *domain.Set, sum *domain.Summary) {
	set.ID = sum.ID
	set.Name = sum.Name
	set.Ion = sum.Ion
	set.Description = sum.Description
	set.Checksum = sum.Checksum
	set.BasisSignature = sum.BasisSignature
	set.ObjectKey = sum.ObjectKey
	set.CreatedAt = sum.CreatedAt
	set.UpdatedAt = sum.UpdatedAt
	set.Version = sum.Version
}

func (s *serviceImpl) Describe(ctx context.Context, id common.ID) (*domain.Summary, error) {
	if err := id.Validate(); err != nil {
		return nil, errors.InvalidParam("invalid coefficient set id").WithCause(err)
	}
	return s.repo.FindByID(ctx, id)
}

func (s *serviceImpl) List(ctx context.Context, page common.Pagination) (*common.PageResponse[*domain.Summary], error) {
	page = page.Normalize()
	items, total, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, err
	}
	return &common.PageResponse[*domain.Summary]{
		Items:    items,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}, nil
}

// Delete removes the metadata first; blob, cache and coverage cleanup
// failures are logged and do not fail the call.
func (s *serviceImpl) Delete(ctx context.Context, id common.ID) error {
	sum, err := s.Describe(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, sum.ObjectKey); err != nil {
		s.logger.Warn("Failed to delete coefficient document", logging.String("key", sum.ObjectKey), logging.Err(err))
	}
	s.forget(ctx, id)
	if s.coverage != nil {
		if err := s.coverage.DeleteSet(ctx, id); err != nil {
			s.logger.Warn("Failed to delete training coverage", logging.String("set_id", id.String()), logging.Err(err))
		}
	}
	s.logger.Info("Coefficient set deleted", logging.String("set_id", id.String()))
	return nil
}

func (s *serviceImpl) forget(ctx context.Context, id common.ID) {
	s.local.remove(id)
	prometheus.RecordSetsLoaded(s.metrics, "local", s.local.len())
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("Coefficient cache invalidation failed", logging.String("set_id", id.String()), logging.Err(err))
	}
}
