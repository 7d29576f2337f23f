package storage

import "github.com/eternalApril/moonkv/internal/resp"

// Entry is a key with the value to store under it
type Entry struct {
	Key   string
	Value resp.Value
}

// Item is the outcome of a single lookup inside a batch read
type Item struct {
	Value resp.Value
	Found bool
}
