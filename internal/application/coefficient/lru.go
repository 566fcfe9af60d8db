package coefficient

import (
	"container/list"
	"sync"

	domain "github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// lru is the process-local tier of decoded sets. A nil *lru holds nothing.
type lru struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[common.ID]*list.Element
}

type lruEntry struct {
	id  common.ID
	set *domain.Set
}

func newLRU(size int) *lru {
	if size <= 0 {
		return nil
	}
	return &lru{size: size, order: list.New(), items: make(map[common.ID]*list.Element, size)}
}

func (c *lru) get(id common.ID) (*domain.Set, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).set, true
}

func (c *lru) add(id common.ID, set *domain.Set) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		el.Value.(*lruEntry).set = set
		c.order.MoveToFront(el)
		return
	}
	c.items[id] = c.order.PushFront(&lruEntry{id: id, set: set})
	for c.order.Len() > c.size {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*lruEntry).id)
	}
}

func (c *lru) remove(id common.ID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}

func (c *lru) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
