package coefficient

import (
	"context"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// ErrCacheMiss is returned by Cache.Get when the set is not cached.
var ErrCacheMiss = errors.New(errors.ErrCodeCacheError, "coefficient set not cached")

// Repository persists coefficient set metadata. The coefficients themselves
// live in the BlobStore under Summary.ObjectKey.
type Repository interface {
	// Save inserts a new set or updates an existing one by ID.
	Save(ctx context.Context, s *Set) error

	// FindByID returns errors.ErrCodeCoeffSetNotFound when the ID is unknown.
	FindByID(ctx context.Context, id common.ID) (*Summary, error)

	// List returns one page of sets ordered by creation time, newest first,
	// together with the total count.
	List(ctx context.Context, page common.Pagination) ([]*Summary, int64, error)

	// Delete returns errors.ErrCodeCoeffSetNotFound when the ID is unknown.
	Delete(ctx context.Context, id common.ID) error
}

// BlobStore holds the serialized set documents.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Cache is a read-through cache of complete sets.
type Cache interface {
	Get(ctx context.Context, id common.ID) (*Set, error)
	Put(ctx context.Context, s *Set) error
	Invalidate(ctx context.Context, id common.ID) error
}
