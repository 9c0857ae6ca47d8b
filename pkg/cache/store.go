package cache

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Item pairs a key with the entry to store under it.
type Item struct {
	Key   RequestKey
	Entry *Entry
}

// Store is a single named cache store.
//
// Single key operations are atomic. PutAll stores a set of items atomically:
// either every item becomes visible or none does.
// Once the store is deleted from its Storage, writes through a handle opened
// earlier are dropped and do not bring the store back.
// Implementations must be safe for concurrent use.
type Store interface {
	// Name returns the store name.
	Name() string

	// Match returns the entry stored for key.
	// Returns ErrCacheMiss if there is none.
	Match(ctx context.Context, key RequestKey) (*Entry, error)

	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key RequestKey, entry *Entry) error

	// PutAll stores all items in one atomic operation.
	PutAll(ctx context.Context, items []Item) error

	// Delete removes the entry for key and reports whether it existed.
	Delete(ctx context.Context, key RequestKey) (bool, error)

	// Keys lists the keys held by the store.
	Keys(ctx context.Context) ([]RequestKey, error)
}

// Storage holds every named store of an origin, the equivalent of the
// browser's CacheStorage.
type Storage interface {
	// Open returns the store with the given name, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)

	// Has reports whether a store with the given name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named store and all of its entries.
	// It reports whether the store existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists all store names in lexical order.
	Names(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

func validateItems(items []Item) error {
	for _, item := range items {
		if item.Entry == nil {
			return errors.New("cache entry cannot be nil")
		}
	}
	return nil
}

func sortKeys(keys []RequestKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
