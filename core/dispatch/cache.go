package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/djherbis/fscache"
	"github.com/jellydator/ttlcache/v3"
)

// Entry is a cached response.
type Entry struct {
	StatusCode int                 `json:"statusCode"`
	Header     map[string][]string `json:"header"`
	Body       []byte              `json:"body"`
}

// Cache stores responses of successful GET requests. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, e *Entry)
	Close() error
}

// NewCache creates the cache for the given backend: "memory", "disk" or "none".
func NewCache(backend string, ttl time.Duration, capacity int, folder string) (Cache, error) {
	switch strings.ToLower(backend) {
	case "", "memory":
		return newMemoryCache(ttl, capacity), nil
	case "disk":
		return newDiskCache(folder, ttl)
	case "none":
		return noCache{}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", backend)
}

type memoryCache struct {
	items *ttlcache.Cache[string, *Entry]
}

func newMemoryCache(ttl time.Duration, capacity int) *memoryCache {
	opts := []ttlcache.Option[string, *Entry]{
		ttlcache.WithTTL[string, *Entry](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Entry](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Entry](uint64(capacity)))
	}
	c := &memoryCache{items: ttlcache.New[string, *Entry](opts...)}
	go c.items.Start()
	return c
}

func (c *memoryCache) Get(_ context.Context, key string) (*Entry, bool) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *memoryCache) Set(_ context.Context, key string, e *Entry) {
	c.items.Set(key, e, ttlcache.DefaultTTL)
}

func (c *memoryCache) Close() error {
	c.items.Stop()
	return nil
}

type diskCache struct {
	fs *fscache.FSCache
}

func newDiskCache(folder string, ttl time.Duration) (*diskCache, error) {
	fs, err := fscache.New(folder, 0755, ttl)
	if err != nil {
		return nil, fmt.Errorf("creating disk cache at %s: %w", folder, err)
	}
	return &diskCache{fs: fs}, nil
}

func (c *diskCache) Get(ctx context.Context, key string) (*Entry, bool) {
	name := diskKey(key)
	if !c.fs.Exists(name) {
		return nil, false
	}
	r, w, err := c.fs.Get(name)
	if err != nil {
		log.Warn(ctx, "Error reading disk cache", "key", key, err)
		return nil, false
	}
	if w != nil {
		// Expired between Exists and Get, and Get created a new empty entry
		_ = w.Close()
		_ = r.Close()
		_ = c.fs.Remove(name)
		return nil, false
	}
	data, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		log.Warn(ctx, "Error reading disk cache", "key", key, err)
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Warn(ctx, "Corrupted disk cache entry, removing it", "key", key, err)
		_ = c.fs.Remove(name)
		return nil, false
	}
	return &e, true
}

func (c *diskCache) Set(ctx context.Context, key string, e *Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error(ctx, "Error encoding cache entry", "key", key, err)
		return
	}
	name := diskKey(key)
	if c.fs.Exists(name) {
		if err := c.fs.Remove(name); err != nil {
			log.Warn(ctx, "Could not replace disk cache entry", "key", key, err)
			return
		}
	}
	r, w, err := c.fs.Get(name)
	if err != nil {
		log.Warn(ctx, "Error creating disk cache entry", "key", key, err)
		return
	}
	_ = r.Close()
	if w == nil {
		// Stored concurrently by another worker
		return
	}
	_, err = w.Write(data)
	_ = w.Close()
	if err != nil {
		log.Warn(ctx, "Error writing disk cache entry", "key", key, err)
		_ = c.fs.Remove(name)
	}
}

func (c *diskCache) Close() error {
	return nil
}

func diskKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type noCache struct{}

func (noCache) Get(context.Context, string) (*Entry, bool) { return nil, false }
func (noCache) Set(context.Context, string, *Entry)        {}
func (noCache) Close() error                               { return nil }
