package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// memoryShards is the shard count for large memory layers.
	memoryShards = 16

	// minShardBytes is the smallest per-shard capacity worth sharding for.
	// Smaller layers use a single shard so the byte bound stays exact.
	minShardBytes = 64 << 10
)

// memoryLRU is a byte-bounded, least-recently-used in-memory layer.
// Keys are spread over shards by xxhash so concurrent renders touching
// different keys rarely contend on the same mutex.
type memoryLRU struct {
	shards []*lruShard
}

type lruShard struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used
	size  int
	max   int
}

type lruItem struct {
	key   string
	entry *Entry
	size  int
}

func newMemoryLRU(maxBytes int) *memoryLRU {
	n := 1
	if maxBytes >= memoryShards*minShardBytes {
		n = memoryShards
	}

	m := &memoryLRU{shards: make([]*lruShard, n)}
	for i := range m.shards {
		m.shards[i] = &lruShard{
			items: make(map[string]*list.Element),
			order: list.New(),
			max:   maxBytes / n,
		}
	}
	return m
}

func (m *memoryLRU) shard(key string) *lruShard {
	if len(m.shards) == 1 {
		return m.shards[0]
	}
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the entry for key and marks it most recently used.
func (m *memoryLRU) Get(key string) (*Entry, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*lruItem).entry, true
}

// Set stores entry under key, evicting least recently used entries until
// the shard fits its byte bound. Entries larger than the whole shard are
// not stored.
func (m *memoryLRU) Set(key string, entry *Entry) error {
	size, err := estimateSize(entry.Value)
	if err != nil {
		return err
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
	if size > s.max {
		return nil
	}

	for s.size+size > s.max {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeElement(oldest)
		MemoryEvictions.Inc()
	}

	el := s.order.PushFront(&lruItem{key: key, entry: entry, size: size})
	s.items[key] = el
	s.size += size
	CacheSize.WithLabelValues("memory").Add(float64(size))
	return nil
}

// Delete removes key from the layer.
func (m *memoryLRU) Delete(key string) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
}

// Size returns the estimated bytes held across all shards.
func (m *memoryLRU) Size() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += s.size
		s.mu.Unlock()
	}
	return total
}

// Len returns the number of entries across all shards.
func (m *memoryLRU) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

func (s *lruShard) removeElement(el *list.Element) {
	item := el.Value.(*lruItem)
	s.order.Remove(el)
	delete(s.items, item.key)
	s.size -= item.size
	CacheSize.WithLabelValues("memory").Sub(float64(item.size))
}
