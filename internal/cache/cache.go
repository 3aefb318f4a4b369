// Package cache provides a bounded TTL cache with in-flight request coalescing.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/liamashdown/walletpnl/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Key identifies one cached resource for one wallet
type Key struct {
	Resource string
	Subject  string
}

func (k Key) String() string { return fmt.Sprintf("%s:%s", k.Resource, k.Subject) }

// Remote is an optional shared second level consulted after a local miss
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type entry struct {
	value      any
	insertedAt time.Time
}

type remoteEnvelope struct {
	InsertedAt time.Time       `json:"inserted_at"`
	Value      json.RawMessage `json:"value"`
}

// Store is the process-wide backing store shared by every typed Cache
type Store struct {
	local  *ristretto.Cache
	remote Remote
	group  singleflight.Group
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a store holding at most maxEntries values. remote may be nil.
func NewStore(maxEntries int64, remote Remote, logger *logrus.Logger) (*Store, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxEntries)
	}
	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true, // every entry costs 1, so MaxCost is an entry count
	})
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &Store{local: local, remote: remote, logger: logger, now: time.Now}, nil
}

// Close releases the local cache
func (s *Store) Close() {
	s.local.Close()
}

// Invalidate drops a key from both levels
func (s *Store) Invalidate(ctx context.Context, key Key) {
	s.local.Del(key.String())
	if s.remote != nil {
		if err := s.remote.Del(ctx, key.String()); err != nil {
			s.logger.WithError(err).WithField("key", key.String()).Warn("Failed to invalidate remote cache entry")
		}
	}
}

// Cache is a typed view over a Store
type Cache[V any] struct {
	store *Store
}

// New returns a typed cache backed by store
func New[V any](store *Store) *Cache[V] {
	return &Cache[V]{store: store}
}

// GetOrFetch returns a value younger than ttl if one is cached. Otherwise it
// runs producer, sharing a single call among concurrent callers of the same
// key. Errors are returned to every waiter and never cached.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, producer func(ctx context.Context) (V, error)) (V, error) {
	s := c.store
	k := key.String()

	if v, ok := c.lookupLocal(k, ttl); ok {
		metrics.RecordCacheLookup(key.Resource, "hit")
		return v, nil
	}

	res, err, shared := s.group.Do(k, func() (any, error) {
		// Another caller may have filled the entry while we queued
		if v, ok := c.lookupLocal(k, ttl); ok {
			return v, nil
		}
		if v, ok := c.lookupRemote(ctx, k, ttl); ok {
			metrics.RecordCacheLookup(key.Resource, "remote_hit")
			return v, nil
		}

		metrics.RecordCacheLookup(key.Resource, "miss")
		v, err := producer(ctx)
		if err != nil {
			return v, err
		}
		c.put(ctx, k, v, ttl)
		return v, nil
	})
	if shared {
		metrics.RecordCacheLookup(key.Resource, "coalesced")
	}
	v, _ := res.(V)
	return v, err
}

// Peek returns a fresh cached value without producing one
func (c *Cache[V]) Peek(key Key, ttl time.Duration) (V, bool) {
	return c.lookupLocal(key.String(), ttl)
}

func (c *Cache[V]) lookupLocal(k string, ttl time.Duration) (V, bool) {
	var zero V
	raw, ok := c.store.local.Get(k)
	if !ok {
		return zero, false
	}
	e, ok := raw.(entry)
	if !ok || c.store.now().Sub(e.insertedAt) >= ttl {
		return zero, false
	}
	v, ok := e.value.(V)
	return v, ok
}

func (c *Cache[V]) lookupRemote(ctx context.Context, k string, ttl time.Duration) (V, bool) {
	var zero V
	s := c.store
	if s.remote == nil {
		return zero, false
	}

	data, ok, err := s.remote.Get(ctx, k)
	if err != nil {
		s.logger.WithError(err).WithField("key", k).Warn("Remote cache read failed")
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var env remoteEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, false
	}
	if s.now().Sub(env.InsertedAt) >= ttl {
		return zero, false
	}
	var v V
	if err := json.Unmarshal(env.Value, &v); err != nil {
		s.logger.WithError(err).WithField("key", k).Warn("Remote cache entry undecodable")
		return zero, false
	}

	s.local.SetWithTTL(k, entry{value: v, insertedAt: env.InsertedAt}, 1, ttl)
	s.local.Wait()
	return v, true
}

func (c *Cache[V]) put(ctx context.Context, k string, v V, ttl time.Duration) {
	s := c.store
	insertedAt := s.now()
	s.local.SetWithTTL(k, entry{value: v, insertedAt: insertedAt}, 1, ttl)
	s.local.Wait()

	if s.remote == nil {
		return
	}
	value, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).WithField("key", k).Warn("Failed to encode remote cache entry")
		return
	}
	data, err := json.Marshal(remoteEnvelope{InsertedAt: insertedAt, Value: value})
	if err != nil {
		return
	}
	if err := s.remote.Set(ctx, k, data, ttl); err != nil {
		s.logger.WithError(err).WithField("key", k).Warn("Remote cache write failed")
	}
}
