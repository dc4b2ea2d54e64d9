// The in-process tier distributes keys uniformly across shards. Since each shard has its own
// mutex to avoid races between reads and writes, sharding helps by distributing the locks: a
// goroutine only locks the shard its key belongs to and doesn't block goroutines working on other
// shards.

package tier

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/oakmist/strata/pkg/entry"
	"github.com/oakmist/strata/pkg/utils"
)

// memoryShard is one lock domain of the in-process tier.
type memoryShard struct {
	mux     sync.RWMutex
	entries map[string]entry.Entry
}

// Memory is the fast in-process tier. Entries are held as values, so callers cannot mutate
// stored state through aliased payload slices held elsewhere.
type Memory struct {
	shards []*memoryShard
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates an in-process tier with the given number of shards.
func NewMemory(shardCount int) *Memory {
	if shardCount <= 0 {
		utils.RaiseInvariant("tier", "negative_shard_count",
			"Invalid shard count has been given to the memory tier.", "shardCount", shardCount)
		shardCount = 1
	}
	memory := &Memory{shards: make([]*memoryShard, shardCount)}
	for i := 0; i < shardCount; i++ {
		memory.shards[i] = &memoryShard{entries: make(map[string]entry.Entry)}
	}
	return memory
}

func (m *Memory) Name() string { return "fast" }

// getShard maps a key to its shard by hashing it and reducing the hash modulo the shard count.
func (m *Memory) getShard(key string) *memoryShard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *Memory) TryGet(ctx context.Context, key string) (entry.Entry, bool, error) {
	shard := m.getShard(key)
	shard.mux.RLock()
	defer shard.mux.RUnlock()
	e, found := shard.entries[key]
	return e, found, nil
}

func (m *Memory) Put(ctx context.Context, key string, e entry.Entry) error {
	shard := m.getShard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	shard.entries[key] = e
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	shard := m.getShard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	delete(shard.entries, key)
	return nil
}

func (m *Memory) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	for _, shard := range m.shards {
		shard.mux.Lock()
		for key := range shard.entries {
			if strings.HasPrefix(key, prefix) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mux.Unlock()
	}
	return removed, nil
}

// ListKeys aggregates matching keys from all shards. This iterates the whole tier, so it is
// reserved for maintenance sweeps and capacity enforcement.
func (m *Memory) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for _, shard := range m.shards {
		shard.mux.RLock()
		for key := range shard.entries {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		shard.mux.RUnlock()
	}
	slices.Sort(keys) // Deterministic order makes sweeps and tests reproducible.
	return keys, nil
}
