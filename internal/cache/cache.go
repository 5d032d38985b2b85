// Package cache provides a small key-value cache with per-entry TTL and
// prefix invalidation, backed by Badger.
//
// The cache is a pure performance optimization: callers treat every failure
// as non-fatal (log and continue). Nothing in the interest engine depends on
// a cache hit for correctness.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrMiss indicates the key is absent or its entry has expired.
var ErrMiss = errors.New("cache miss")

// Cache is a TTL key-value cache.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens a cache at dir. An empty dir opens an in-memory cache,
// which is what tests use.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's default logger is chatty; route everything through slog instead.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache at %q: %w", dir, err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Get returns the value stored under key. Returns ErrMiss when the key is
// absent or expired.
func (c *Cache) Get(key string) ([]byte, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}
	return val, nil
}

// SetWithTTL stores value under key; the entry expires after ttl.
func (c *Cache) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes every entry whose key starts with prefix.
// Returns the number of entries deleted.
func (c *Cache) DeleteByPattern(prefix string) (int, error) {
	var deleted int
	err := c.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("cache delete by prefix %q: %w", prefix, err)
	}
	if deleted > 0 {
		c.logger.Debug("cache entries invalidated", "prefix", prefix, "count", deleted)
	}
	return deleted, nil
}

// Close releases the underlying Badger database.
func (c *Cache) Close() error {
	return c.db.Close()
}
