package storage

import (
	"hash/fnv"
	"math/bits"
	"slices"

	"github.com/pkg/errors"

	"github.com/eternalApril/moonkv/internal/resp"
)

// ShardedMapStorage is a thread-safe key-value storage,
// divided into segments (shards) to reduce contention for locking.
// Multi-key operations lock every involved shard in ascending index order
type ShardedMapStorage struct {
	shards    []*MapStorage
	shardMask uint32
}

// NewShardedMapStorage creates a new instance of ShardedMapStorage.
// The requestedShards parameter must be a power of two for efficient allocation.
// The maximum allowed number of shards is 64.
func NewShardedMapStorage(requestedShards uint) (*ShardedMapStorage, error) {
	if bits.OnesCount(requestedShards) != 1 {
		return nil, errors.New("requested shards must be a power of 2")
	}

	if requestedShards > 64 {
		return nil, errors.New("requested shards must be less or equal than 64")
	}

	s := &ShardedMapStorage{
		shards:    make([]*MapStorage, requestedShards),
		shardMask: uint32(requestedShards - 1),
	}

	for i := range s.shards {
		s.shards[i] = NewMapStorage()
	}

	return s, nil
}

// getShardIndex returns index of shard by key
func (s *ShardedMapStorage) getShardIndex(key string) uint32 {
	hash := fnv.New32a()
	hash.Write([]byte(key)) //nolint:errcheck

	return hash.Sum32() & s.shardMask
}

// Get returns the value and true if the key is found
func (s *ShardedMapStorage) Get(key string) (resp.Value, bool) {
	return s.shards[s.getShardIndex(key)].Get(key)
}

// Set inserts or overwrites the value of key
func (s *ShardedMapStorage) Set(key string, value resp.Value) {
	s.shards[s.getShardIndex(key)].Set(key, value)
}

// Delete deletes the key. Returns true if the key existed and was deleted
func (s *ShardedMapStorage) Delete(key string) bool {
	return s.shards[s.getShardIndex(key)].Delete(key)
}

// Clear locks every shard before counting, so the result is one consistent snapshot
func (s *ShardedMapStorage) Clear() int {
	for _, shard := range s.shards {
		shard.mu.Lock()
	}

	total := 0
	for _, shard := range s.shards {
		total += shard.clear()
	}

	for _, shard := range s.shards {
		shard.mu.Unlock()
	}

	return total
}

// MGet read-locks every shard the keys hash to, then reads all keys
func (s *ShardedMapStorage) MGet(keys []string) []Item {
	indexes := make([]uint32, len(keys))
	for i, key := range keys {
		indexes[i] = s.getShardIndex(key)
	}

	locked := lockOrder(indexes)
	for _, idx := range locked {
		s.shards[idx].mu.RLock()
	}

	items := make([]Item, len(keys))
	for i, key := range keys {
		items[i].Value, items[i].Found = s.shards[indexes[i]].get(key)
	}

	for _, idx := range locked {
		s.shards[idx].mu.RUnlock()
	}

	return items
}

// MSet write-locks every shard the keys hash to, then writes all entries
func (s *ShardedMapStorage) MSet(entries []Entry) int {
	indexes := make([]uint32, len(entries))
	for i, e := range entries {
		indexes[i] = s.getShardIndex(e.Key)
	}

	locked := lockOrder(indexes)
	for _, idx := range locked {
		s.shards[idx].mu.Lock()
	}

	for i, e := range entries {
		s.shards[indexes[i]].data[e.Key] = e.Value
	}

	for _, idx := range locked {
		s.shards[idx].mu.Unlock()
	}

	return len(entries)
}

// Len sums the shard sizes under all read locks
func (s *ShardedMapStorage) Len() int {
	for _, shard := range s.shards {
		shard.mu.RLock()
	}

	total := 0
	for _, shard := range s.shards {
		total += len(shard.data)
	}

	for _, shard := range s.shards {
		shard.mu.RUnlock()
	}

	return total
}

// lockOrder returns the distinct shard indexes sorted ascending
func lockOrder(indexes []uint32) []uint32 {
	order := slices.Clone(indexes)
	slices.Sort(order)
	return slices.Compact(order)
}
