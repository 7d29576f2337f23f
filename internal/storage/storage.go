package storage

import "github.com/eternalApril/moonkv/internal/resp"

// Storage is the key-value capability the command engine runs against.
// Values are stored as given, nested arrays included, and never expire.
// Implementations are safe for concurrent use; MGet, MSet and Clear are
// atomic with respect to every other operation
type Storage interface {
	// Get returns the value and true if the key is found
	Get(key string) (resp.Value, bool)

	// Set inserts or overwrites the value of key
	Set(key string, value resp.Value)

	// Delete deletes the key. Returns true if the key existed and was deleted
	Delete(key string) bool

	// Clear removes every entry and returns how many were removed
	Clear() int

	// MGet looks up all keys as one snapshot, results are in keys order
	MGet(keys []string) []Item

	// MSet writes all entries as one batch and returns how many were written
	MSet(entries []Entry) int

	// Len returns the number of stored keys
	Len() int
}

// New returns a single-map storage for one shard and a sharded storage otherwise
func New(shards uint) (Storage, error) {
	if shards == 1 {
		return NewMapStorage(), nil
	}
	s, err := NewShardedMapStorage(shards)
	if err != nil {
		return nil, err
	}
	return s, nil
}
