// Package cache implements the tiered in-memory cache with an optional durable
// tier for high-priority entries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

const (
	// NoExpiration marks an entry that never expires.
	NoExpiration time.Duration = -1
	// DefaultTTL is used when Set is called with ttl == 0 and no default is configured.
	DefaultTTL = 5 * time.Minute
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	now        func() time.Time
	storeKey   string
	defaultTTL time.Duration
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDefaultTTL sets the TTL used for Set(..., 0, ...).
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) { o.defaultTTL = ttl }
}

// WithStoreKey sets the durable store key of the persisted tier.
func WithStoreKey(key string) Option {
	return func(o *options) { o.storeKey = key }
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	durable bool
}

// Durable requests the entry to be written to the durable tier regardless of priority.
func Durable() SetOption {
	return func(o *setOptions) { o.durable = true }
}

// Stats описывает текущее состояние кэша.
type Stats struct {
	Entries int // Entries количество записей (включая истекшие, еще не вычищенные)
	Durable int // Durable количество записей постоянного уровня
	Bytes   int // Bytes суммарный примерный размер
}

// Cache is a key/value cache with per-entry TTL and priority. Entries with
// priority Critical, or set with Durable(), are also written through to the
// durable store. Durable-tier failures are logged and never returned.
type Cache[T any] struct {
	store   storage.DurableStore
	logger  *slog.Logger
	entries map[string]*models.CacheEntry[T]
	opts    options

	mu        sync.Mutex
	persistMu sync.Mutex // сериализует запись снимка в store
}

// New creates a cache. store may be nil for a memory-only cache.
func New[T any](store storage.DurableStore, logger *slog.Logger, opts ...Option) *Cache[T] {
	o := options{
		now:        time.Now,
		storeKey:   storage.KeyCacheEntries,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[T]{
		store:   store,
		logger:  logger,
		entries: make(map[string]*models.CacheEntry[T]),
		opts:    o,
	}
}

// Set stores or replaces an entry.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, priority models.Priority, opts ...SetOption) {
	var so setOptions
	for _, opt := range opts {
		opt(&so)
	}
	if ttl == 0 {
		ttl = c.opts.defaultTTL
	}

	entry := &models.CacheEntry[T]{
		InsertedAt: c.opts.now(),
		Data:       value,
		TTL:        ttl,
		ApproxSize: c.approxSize(key, value),
		Priority:   priority,
		Durable:    so.durable || priority == models.PriorityCritical,
	}

	c.mu.Lock()
	prev, existed := c.entries[key]
	c.entries[key] = entry
	c.mu.Unlock()

	// Замена durable записи на memory-only тоже меняет снимок
	if entry.Durable || (existed && prev.Durable) {
		c.persist(ctx)
	}
}

// Get returns the value if present and not expired. Expired entries are
// evicted as a side effect.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	if entry.Expired(c.opts.now()) {
		delete(c.entries, key)
		c.mu.Unlock()
		if entry.Durable {
			c.persist(ctx)
		}
		return zero, false
	}
	value := entry.Data
	c.mu.Unlock()

	return value, true
}

// Has reports whether Get would return a value.
func (c *Cache[T]) Has(ctx context.Context, key string) bool {
	_, ok := c.Get(ctx, key)
	return ok
}

// Entry returns a copy of the entry metadata for a live key.
func (c *Cache[T]) Entry(key string) (models.CacheEntry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.Expired(c.opts.now()) {
		return models.CacheEntry[T]{}, false
	}
	return *entry, true
}

// Delete removes a key from both tiers.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok && entry.Durable {
		c.persist(ctx)
	}
}

// Clear removes all entries from both tiers.
func (c *Cache[T]) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*models.CacheEntry[T])
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if err := c.store.Remove(ctx, c.opts.storeKey); err != nil {
		c.logger.Warn("failed to clear durable cache tier", slog.Any("error", err))
	}
}

// Keys returns the sorted keys of live entries.
func (c *Cache[T]) Keys() []string {
	now := c.opts.now()

	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.Expired(now) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Stats returns entry counts and the estimated memory footprint.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	for _, e := range c.entries {
		s.Entries++
		s.Bytes += e.ApproxSize
		if e.Durable {
			s.Durable++
		}
	}
	return s
}

// CleanExpired evicts every expired entry and returns how many were removed.
func (c *Cache[T]) CleanExpired(ctx context.Context) int {
	now := c.opts.now()
	removed, durable := 0, false

	c.mu.Lock()
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
			durable = durable || e.Durable
		}
	}
	c.mu.Unlock()

	if durable {
		c.persist(ctx)
	}
	return removed
}

// EnforceMemoryLimit evicts entries while the estimated size exceeds maxBytes:
// lowest priority first, oldest first within a priority. Critical entries are
// never evicted by this path. Returns the number of evicted entries.
func (c *Cache[T]) EnforceMemoryLimit(ctx context.Context, maxBytes int) int {
	type candidate struct {
		insertedAt time.Time
		key        string
		size       int
		priority   models.Priority
	}

	c.mu.Lock()
	total := 0
	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		total += e.ApproxSize
		if e.Priority == models.PriorityCritical {
			continue
		}
		candidates = append(candidates, candidate{insertedAt: e.InsertedAt, key: k, size: e.ApproxSize, priority: e.Priority})
	}
	if total <= maxBytes {
		c.mu.Unlock()
		return 0
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.insertedAt.Equal(b.insertedAt) {
			return a.insertedAt.Before(b.insertedAt)
		}
		return a.key < b.key
	})

	evicted, durable := 0, false
	for _, cand := range candidates {
		if total <= maxBytes {
			break
		}
		durable = durable || c.entries[cand.key].Durable
		delete(c.entries, cand.key)
		total -= cand.size
		evicted++
	}
	c.mu.Unlock()

	if total > maxBytes {
		c.logger.Warn("cache exceeds memory limit with only critical entries left",
			"bytes", total, "max_bytes", maxBytes)
	}
	if durable {
		c.persist(ctx)
	}
	return evicted
}

// Restore loads the durable tier. Missing or corrupt state yields an empty
// tier. Expired entries are skipped. Returns the number of restored entries.
func (c *Cache[T]) Restore(ctx context.Context) int {
	if c.store == nil {
		return 0
	}

	data, err := c.store.Load(ctx, c.opts.storeKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			c.logger.Warn("failed to load durable cache tier", slog.Any("error", err))
		}
		return 0
	}

	var persisted map[string]*models.CacheEntry[T]
	if err := json.Unmarshal(data, &persisted); err != nil {
		c.logger.Warn("durable cache tier is corrupted, starting empty", slog.Any("error", err))
		return 0
	}

	now := c.opts.now()
	restored := 0

	c.mu.Lock()
	for k, e := range persisted {
		if e == nil || e.Expired(now) {
			continue
		}
		if _, exists := c.entries[k]; exists {
			continue
		}
		e.Durable = true
		c.entries[k] = e
		restored++
	}
	c.mu.Unlock()

	return restored
}

// DefaultSweepInterval период очистки, если Run получил неположительный интервал
const DefaultSweepInterval = time.Minute

// Run sweeps expired entries and enforces maxBytes (if positive) every
// interval until ctx is done. A non-positive interval means DefaultSweepInterval.
func (c *Cache[T]) Run(ctx context.Context, interval time.Duration, maxBytes int) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := c.CleanExpired(ctx)
			evicted := 0
			if maxBytes > 0 {
				evicted = c.EnforceMemoryLimit(ctx, maxBytes)
			}
			if expired > 0 || evicted > 0 {
				c.logger.Debug("cache sweep", "expired", expired, "evicted", evicted)
			}
		}
	}
}

func (c *Cache[T]) approxSize(key string, value T) int {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug("failed to estimate cache entry size", "key", key, slog.Any("error", err))
		return len(key)
	}
	return len(key) + len(data)
}

// persist writes the durable entries to the store. The snapshot is taken
// after persistMu is held, so the last writer always stores the latest state.
func (c *Cache[T]) persist(ctx context.Context) {
	if c.store == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	snapshot := make(map[string]models.CacheEntry[T])
	for k, e := range c.entries {
		if e.Durable {
			snapshot[k] = *e
		}
	}
	c.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("failed to encode durable cache tier", slog.Any("error", err))
		return
	}
	if err := c.store.Save(ctx, c.opts.storeKey, data); err != nil {
		c.logger.Warn("durable cache write failed, continuing memory-only", slog.Any("error", err))
	}
}
