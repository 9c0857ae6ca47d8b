package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore loads and saves the registration state.
type StateStore interface {
	// Load returns the stored state, or NewState() if none exists.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, state *State) error
}

// MemoryStateStore keeps the state in process memory.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns a copy of the stored state.
func (m *MemoryStateStore) Load(_ context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return NewState(), nil
	}
	s := *m.state
	return &s, nil
}

// Save stores a copy of state.
func (m *MemoryStateStore) Save(_ context.Context, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *state
	m.state = &s
	return nil
}

// RedisStateStore keeps the state in Redis so several proxies share one
// registration.
//
// Layout (prefix defaults to DefaultRedisPrefix):
//
//	<prefix>:active_version
//	<prefix>:waiting_version
//	<prefix>:state
//	<prefix>:install_attempts
//	<prefix>:last_error
//	<prefix>:last_update       unix milliseconds
type RedisStateStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(redisClient *redis.Client, prefix string) *RedisStateStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStateStore{redis: redisClient, prefix: prefix}
}

func (r *RedisStateStore) key(suffix string) string {
	return r.prefix + ":" + suffix
}

// Load fetches all state fields in one MGET.
func (r *RedisStateStore) Load(ctx context.Context) (*State, error) {
	values, err := r.redis.MGet(ctx,
		r.key(keyActiveVersion),
		r.key(keyWaitingVersion),
		r.key(keyPhase),
		r.key(keyInstallAttempts),
		r.key(keyLastError),
		r.key(keyLastUpdate),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("get registration state: %w", err)
	}

	field := func(i int) string {
		if s, ok := values[i].(string); ok {
			return s
		}
		return ""
	}

	// no registration written yet
	if values[2] == nil {
		return NewState(), nil
	}

	state := &State{
		ActiveVersion:  field(0),
		WaitingVersion: field(1),
		Phase:          Phase(field(2)),
		LastError:      field(4),
	}
	if s := field(3); s != "" {
		attempts, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("parse install attempts: %w", err)
		}
		state.InstallAttempts = attempts
	}
	if s := field(5); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
		state.LastUpdate = time.UnixMilli(ms)
	}
	return state, nil
}

// Save writes all fields inside MULTI/EXEC.
func (r *RedisStateStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return errors.New("state cannot be nil")
	}
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(keyActiveVersion), state.ActiveVersion, 0)
		pipe.Set(ctx, r.key(keyWaitingVersion), state.WaitingVersion, 0)
		pipe.Set(ctx, r.key(keyPhase), string(state.Phase), 0)
		pipe.Set(ctx, r.key(keyInstallAttempts), state.InstallAttempts, 0)
		pipe.Set(ctx, r.key(keyLastError), state.LastError, 0)
		pipe.Set(ctx, r.key(keyLastUpdate), state.LastUpdate.UnixMilli(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store registration state in redis: %w", err)
	}
	return nil
}
