// Package cache provides the result cache for predict operations: an LRU
// of serialized results with per-entry TTL and deterministic keys derived
// from the operation name and its significant parameters.
package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aicrm/mlservice/pkg/errors"
)

// Config configures a Cache.
type Config struct {
	// Size is the maximum number of entries held.
	Size int

	// DefaultTTL applies when Set is called with a non-positive TTL.
	DefaultTTL time.Duration
}

// DefaultConfig holds 1024 entries with a 1 hour TTL, the documented
// expiry for forecast results.
func DefaultConfig() Config {
	return Config{Size: 1024, DefaultTTL: time.Hour}
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an LRU of serialized results with per-entry expiry.
type Cache struct {
	cfg Config
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// New creates a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}

	backing, err := lru.New[string, entry](cfg.Size)
	if err != nil {
		return nil, errors.Wrap(err, "creating result cache")
	}
	return &Cache{cfg: cfg, lru: backing, now: time.Now}, nil
}

// Get returns the cached value for key, or a miss if the key is absent or
// its entry has expired. Expired entries are evicted on read.
func (c *Cache) Get(key string) ([]byte, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl uses the
// configured default.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.lru.Add(key, entry{value: value, expiresAt: c.now().Add(ttl)})
}

// Len returns the number of live entries, counting expired ones until
// they are evicted.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// SetClock replaces the cache's time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Key derives a deterministic cache key from the operation name and its
// significant parameters: parameters render in sorted key order, so
// identical calls collide and distinct calls never do.
func Key(op string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(op)
	for _, k := range keys {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte(':')
		if raw, err := json.Marshal(params[k]); err == nil {
			b.Write(raw)
		}
	}
	return b.String()
}
