package testutil

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// Coefficient sets
// ─────────────────────────────────────────────────────────────────────────────

// MemoryRepository is a coefficient.Repository with the same conflict and
// not-found semantics as the Postgres one.
type MemoryRepository struct {
	mu   sync.Mutex
	sets map[common.ID]coefficient.Summary
	Err  error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sets: make(map[common.ID]coefficient.Summary)}
}

func (r *MemoryRepository) Save(_ context.Context, s *coefficient.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for id, other := range r.sets {
		if id != s.ID && other.Name == s.Name {
			return errors.Conflict("coefficient set name already exists").WithDetail(s.Name)
		}
	}
	if prev, ok := r.sets[s.ID]; ok {
		s.Version = prev.Version + 1
	}
	r.sets[s.ID] = s.Summary()
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id common.ID) (*coefficient.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	s, ok := r.sets[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeCoeffSetNotFound, "coefficient set not found").WithDetail(string(id))
	}
	return &s, nil
}

func (r *MemoryRepository) List(_ context.Context, page common.Pagination) ([]*coefficient.Summary, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, 0, r.Err
	}
	all := make([]*coefficient.Summary, 0, len(r.sets))
	for _, s := range r.sets {
		s := s
		all = append(all, &s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	page = page.Normalize()
	lo := page.Offset()
	if lo > len(all) {
		lo = len(all)
	}
	hi := lo + page.PageSize
	if hi > len(all) {
		hi = len(all)
	}
	return all[lo:hi], int64(len(all)), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id common.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.sets[id]; !ok {
		return errors.New(errors.ErrCodeCoeffSetNotFound, "coefficient set not found").WithDetail(string(id))
	}
	delete(r.sets, id)
	return nil
}

// MemoryBlobStore is a coefficient.BlobStore that counts reads.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	Gets    int
	PutErr  error
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PutErr != nil {
		return b.PutErr
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Gets++
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New(errors.ErrCodeCoeffSetNotFound, "object not found").WithDetail(key)
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBlobStore) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *MemoryBlobStore) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Gets
}

// MemoryCache is a coefficient.Cache.
type MemoryCache struct {
	mu   sync.Mutex
	sets map[common.ID]*coefficient.Set
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sets: make(map[common.ID]*coefficient.Set)}
}

func (c *MemoryCache) Get(_ context.Context, id common.ID) (*coefficient.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[id]
	if !ok {
		return nil, coefficient.ErrCacheMiss
	}
	return s, nil
}

func (c *MemoryCache) Put(_ context.Context, s *coefficient.Set) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[s.ID] = s
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, id common.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, id)
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

// ─────────────────────────────────────────────────────────────────────────────
// Coverage
// ─────────────────────────────────────────────────────────────────────────────

// MemoryCoverage implements coverage.Repository and coverage.Index with an
// exhaustive nearest-neighbor scan.
type MemoryCoverage struct {
	mu      sync.Mutex
	batches map[common.ID][]*coverage.Batch
	points  map[common.ID][]indexedPoint
	Err     error
}

type indexedPoint struct {
	batch common.ID
	p     coverage.Point
}

func NewMemoryCoverage() *MemoryCoverage {
	return &MemoryCoverage{
		batches: make(map[common.ID][]*coverage.Batch),
		points:  make(map[common.ID][]indexedPoint),
	}
}

func (m *MemoryCoverage) Save(_ context.Context, b *coverage.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.SetID] = append(m.batches[b.SetID], b)
	return nil
}

func (m *MemoryCoverage) ListBySet(_ context.Context, setID common.ID) ([]*coverage.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*coverage.Batch(nil), m.batches[setID]...), nil
}

func (m *MemoryCoverage) Insert(_ context.Context, b *coverage.Batch, points []coverage.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, p := range points {
		m.points[b.SetID] = append(m.points[b.SetID], indexedPoint{batch: b.ID, p: p})
	}
	return nil
}

func (m *MemoryCoverage) Nearest(_ context.Context, setID common.ID, x *coverage.Point) (coverage.Neighbor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return coverage.Neighbor{}, false, m.Err
	}
	best := coverage.Neighbor{Distance: math.Inf(1)}
	found := false
	for _, ip := range m.points[setID] {
		var d float64
		for k := range ip.p {
			diff := ip.p[k] - x[k]
			d += diff * diff
		}
		if d < best.Distance {
			best = coverage.Neighbor{BatchID: ip.batch, Distance: d}
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryCoverage) DeleteSet(_ context.Context, setID common.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, setID)
	delete(m.batches, setID)
	return nil
}

func (m *MemoryCoverage) Points(setID common.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[setID])
}
