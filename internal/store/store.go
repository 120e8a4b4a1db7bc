// Package store persists coordination patterns in Redis so definitions and
// confidence state outlive a single process. It exposes the same lookup
// contract as the in-memory registry.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/delegation"
	"github.com/conductor-labs/delegate/internal/metrics"
)

const keyPrefix = "pattern:"

// Store is a Redis-backed pattern store with a local cache of live patterns.
// The cache holds the running trackers; Redis holds the durable snapshot.
type Store struct {
	client  *redis.Client
	runtime Runtime
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]delegation.Pattern
}

// New connects to Redis and creates a store. The Redis password is taken
// from the REDIS_PASSWORD environment variable.
func New(redisAddr string, runtime Runtime, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, runtime, logger), nil
}

// NewWithClient creates a store around an existing Redis client.
func NewWithClient(client *redis.Client, runtime Runtime, logger *zap.Logger) *Store {
	return &Store{
		client:  client,
		runtime: runtime,
		logger:  logger,
		cache:   make(map[string]delegation.Pattern),
	}
}

// Load warms the local cache from every persisted pattern. Called once at
// startup before the store serves lookups.
func (s *Store) Load(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("load", time.Since(start).Seconds()) }()

	keys, err := s.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list patterns: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			s.logger.Warn("skipping unreadable pattern", zap.String("key", key), zap.Error(err))
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping malformed pattern", zap.String("key", key), zap.Error(err))
			continue
		}
		p, err := s.runtime.Materialize(rec, s.logger)
		if err != nil {
			s.logger.Warn("skipping unmaterializable pattern",
				zap.String("pattern", rec.Name), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.cache[p.Name()] = p
		s.mu.Unlock()
		loaded++
	}

	s.updateCacheSize()
	s.logger.Info("pattern store loaded", zap.Int("patterns", loaded))
	return loaded, nil
}

// Register persists a new pattern. A duplicate name is rejected before any
// mutation, in Redis or in the cache.
func (s *Store) Register(ctx context.Context, p delegation.Pattern) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("register", time.Since(start).Seconds()) }()

	rec, err := Snapshot(p)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}

	// SETNX makes the duplicate check and the insert one atomic step.
	ok, err := s.client.SetNX(ctx, s.key(p.Name()), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store pattern: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %q", delegation.ErrDuplicateName, p.Name())
	}

	s.mu.Lock()
	s.cache[p.Name()] = p
	s.mu.Unlock()
	s.updateCacheSize()

	s.logger.Info("pattern persisted",
		zap.String("pattern", p.Name()),
		zap.String("type", string(p.Type())),
	)
	return nil
}

// Unregister removes a pattern from Redis and the cache. An absent name is
// reported but not fatal to the caller.
func (s *Store) Unregister(ctx context.Context, name string) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("unregister", time.Since(start).Seconds()) }()

	removed, err := s.client.Del(ctx, s.key(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
	s.updateCacheSize()

	if removed == 0 {
		return fmt.Errorf("%w: %q", delegation.ErrPatternNotFound, name)
	}
	s.logger.Info("pattern removed", zap.String("pattern", name))
	return nil
}

// Get returns the live pattern for a name, materializing from Redis on a
// cache miss.
func (s *Store) Get(ctx context.Context, name string) (delegation.Pattern, bool) {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("get", time.Since(start).Seconds()) }()

	s.mu.RLock()
	p, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		metrics.StoreCacheHits.Inc()
		return p, true
	}
	metrics.StoreCacheMisses.Inc()

	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		s.logger.Warn("pattern lookup failed", zap.String("pattern", name), zap.Error(err))
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("malformed pattern record", zap.String("pattern", name), zap.Error(err))
		return nil, false
	}
	p, err = s.runtime.Materialize(rec, s.logger)
	if err != nil {
		s.logger.Warn("failed to materialize pattern", zap.String("pattern", name), zap.Error(err))
		return nil, false
	}

	s.mu.Lock()
	s.cache[name] = p
	s.mu.Unlock()
	s.updateCacheSize()
	return p, true
}

// ListByType returns all cached patterns of one type, sorted by name.
func (s *Store) ListByType(t delegation.PatternType) []delegation.Pattern {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("list_by_type", time.Since(start).Seconds()) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []delegation.Pattern
	for _, p := range s.cache {
		if p.Type() == t {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// List returns every cached pattern, sorted by name.
func (s *Store) List() []delegation.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]delegation.Pattern, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FindMatching returns the cached patterns whose Matches holds for the
// context, ranked best-first by confidence.
func (s *Store) FindMatching(c *delegation.Context) []delegation.Pattern {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("find_matching", time.Since(start).Seconds()) }()

	s.mu.RLock()
	var matched []delegation.Pattern
	for _, p := range s.cache {
		if p.Matches(c) {
			matched = append(matched, p)
		}
	}
	s.mu.RUnlock()

	delegation.SortByConfidence(matched)
	return matched
}

// Persist writes a pattern's current snapshot back to Redis, keeping the
// durable confidence counters in step with the live tracker.
func (s *Store) Persist(ctx context.Context, p delegation.Pattern) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLookup("persist", time.Since(start).Seconds()) }()

	rec, err := Snapshot(p)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.Name()), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist pattern: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return keyPrefix + name
}

func (s *Store) updateCacheSize() {
	s.mu.RLock()
	metrics.StoreCacheSize.Set(float64(len(s.cache)))
	s.mu.RUnlock()
}
