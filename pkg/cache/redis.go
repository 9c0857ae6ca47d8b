package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all keys written by RedisStorage.
const DefaultRedisPrefix = "swcache"

// RedisStorage stores every named store as a Redis hash.
//
// Layout:
//
//	<prefix>:caches          set of store names
//	<prefix>:cache:<name>    hash of request key -> JSON entry
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
// An empty prefix selects DefaultRedisPrefix.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (r *RedisStorage) namesKey() string {
	return r.prefix + ":caches"
}

func (r *RedisStorage) storeKey(name string) string {
	return r.prefix + ":cache:" + name
}

// Open registers the store name and returns a handle to it.
func (r *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}
	if err := r.redis.SAdd(ctx, r.namesKey(), name).Err(); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisStore{storage: r, name: name}, nil
}

// Has reports whether the store name is registered.
func (r *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := r.redis.SIsMember(ctx, r.namesKey(), name).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Delete drops the store hash and its name in one transaction.
func (r *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, r.namesKey(), name)
		pipe.Del(ctx, r.storeKey(name))
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis delete store: %w", err)
	}
	return removed.Val() > 0, nil
}

// Names lists registered store names.
func (r *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := r.redis.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the underlying Redis client.
func (r *RedisStorage) Close() error {
	return r.redis.Close()
}

type redisStore struct {
	storage *RedisStorage
	name    string
}

func (s *redisStore) Name() string {
	return s.name
}

func (s *redisStore) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	data, err := s.storage.redis.HGet(ctx, s.storage.storeKey(s.name), key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(s.name).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(s.name, "redis").Inc()
	return &entry, nil
}

func (s *redisStore) Put(ctx context.Context, key RequestKey, entry *Entry) error {
	return s.PutAll(ctx, []Item{{Key: key, Entry: entry}})
}

// maxPutRetries bounds PutAll attempts when the store set changes under WATCH.
const maxPutRetries = 3

// PutAll writes all fields inside MULTI/EXEC so readers never see a partial set.
// The store set is watched: a store deleted since Open stays deleted and the
// write is dropped.
func (s *redisStore) PutAll(ctx context.Context, items []Item) error {
	if err := validateItems(items); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return err
	}
	if len(items) == 0 {
		return nil
	}

	fields := make([]interface{}, 0, len(items)*2)
	written := 0
	for _, item := range items {
		data, err := json.Marshal(item.Entry)
		if err != nil {
			CacheErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		fields = append(fields, item.Key.String(), data)
		written += len(data)
	}

	namesKey := s.storage.namesKey()
	stored := false
	put := func(tx *redis.Tx) error {
		exists, err := tx.SIsMember(ctx, namesKey, s.name).Result()
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.storage.storeKey(s.name), fields...)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}

	var err error
	for attempt := 0; attempt < maxPutRetries; attempt++ {
		err = s.storage.redis.Watch(ctx, put, namesKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	if stored {
		StoredBytes.WithLabelValues("redis").Add(float64(written))
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key RequestKey) (bool, error) {
	n, err := s.storage.redis.HDel(ctx, s.storage.storeKey(s.name), key.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Keys(ctx context.Context) ([]RequestKey, error) {
	fields, err := s.storage.redis.HKeys(ctx, s.storage.storeKey(s.name)).Result()
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	keys := make([]RequestKey, 0, len(fields))
	for _, field := range fields {
		key, err := ParseKey(field)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}
