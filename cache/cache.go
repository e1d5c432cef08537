// Package cache implements the two-tier cache described for the resolver:
// a content-addressed on-disk cache for CDN blobs, a bounded in-memory
// tier in front of it, and a short-/medium-/long-TTL tier for manifest
// responses (versions, CDN configs, certificates).
//
// Grounded on the teacher's huge-cache (bigcache wrapper keyed by a
// content hash with prefixed key namespaces) and range-cache (bounded
// in-memory tier with atomic stats and read-biased locking) packages.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"github.com/wowemulation-dev/ngdp/metrics"
	"github.com/wowemulation-dev/ngdp/telemetry"
	"k8s.io/klog/v2"
)

// BlobCache is the content-addressed tier: an in-memory bigcache instance
// in front of an on-disk CAS directory. Keys are lowercase hex EKeys or
// CKeys; content-addressed data never goes stale, so neither tier assigns
// a TTL to it.
type BlobCache struct {
	mem   *bigcache.BigCache
	disk  *DiskCache
	stats Stats
}

// Options configures BlobCache's in-memory tier. NewBlobCache always
// creates that tier from Memory; the disk tier is rooted at the directory
// passed to NewBlobCache.
type Options struct {
	Memory bigcache.Config
}

// DefaultMemoryConfig mirrors the teacher's huge-cache defaults, tuned
// down: a modest eviction window since content blobs can be multiple
// megabytes each.
func DefaultMemoryConfig() bigcache.Config {
	cfg := bigcache.DefaultConfig(10 * time.Minute)
	cfg.MaxEntrySize = 8 << 20
	cfg.HardMaxCacheSize = 512 // MB
	cfg.OnRemoveWithReason = func(key string, _ []byte, reason bigcache.RemoveReason) {
		metrics.CacheEvictions.WithLabelValues("memory", bigcacheReasonLabel(reason)).Inc()
	}
	return cfg
}

func bigcacheReasonLabel(r bigcache.RemoveReason) string {
	switch r {
	case bigcache.Expired:
		return "ttl"
	case bigcache.NoSpace:
		return "capacity"
	case bigcache.Deleted:
		return "invalidated"
	default:
		return "other"
	}
}

// NewBlobCache builds a blob cache rooted at dir with an in-memory tier
// configured by opts.
func NewBlobCache(ctx context.Context, dir string, opts Options) (*BlobCache, error) {
	disk, err := NewDiskCache(dir)
	if err != nil {
		return nil, err
	}
	bc := &BlobCache{disk: disk}

	memCfg := opts.Memory
	userCallback := memCfg.OnRemoveWithReason
	memCfg.OnRemoveWithReason = func(key string, entry []byte, reason bigcache.RemoveReason) {
		bc.stats.recordEviction()
		if userCallback != nil {
			userCallback(key, entry, reason)
		}
	}

	mem, err := bigcache.New(ctx, memCfg)
	if err != nil {
		return nil, &ngdperr.Resource{Op: "bigcache.New", Path: dir, Err: err}
	}
	bc.mem = mem
	return bc, nil
}

// Get returns the plaintext bytes for key (a lowercase hex EKey or CKey),
// checking the in-memory tier before falling through to disk. A disk hit
// is promoted into the in-memory tier.
func (c *BlobCache) Get(ctx context.Context, kind, key string) ([]byte, bool, error) {
	ctx, span := telemetry.StartCacheSpan(ctx, "memory", "get", key)
	defer span.End()

	if c.mem != nil {
		if v, err := c.mem.Get(key); err == nil {
			metrics.CacheRequests.WithLabelValues("memory", "hit").Inc()
			metrics.CacheBytesSaved.WithLabelValues("memory").Add(float64(len(v)))
			c.stats.recordHit(len(v))
			return v, true, nil
		} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, false, &ngdperr.Resource{Op: "bigcache.Get", Path: key, Err: err}
		}
	}
	metrics.CacheRequests.WithLabelValues("memory", "miss").Inc()

	_, diskSpan := telemetry.StartCacheSpan(ctx, "disk", "get", key)
	defer diskSpan.End()

	v, ok, err := c.disk.Get(kind, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues("disk", "miss").Inc()
		c.stats.recordMiss()
		return nil, false, nil
	}
	metrics.CacheRequests.WithLabelValues("disk", "hit").Inc()
	metrics.CacheBytesSaved.WithLabelValues("disk").Add(float64(len(v)))
	c.stats.recordHit(len(v))

	if c.mem != nil {
		if err := c.mem.Set(key, v); err != nil {
			klog.V(3).Infof("cache: promoting %s to memory tier failed: %v", key, err)
		}
	}
	return v, true, nil
}

// Put writes data to both tiers. Disk writes are atomic (temp file, then
// rename); a failure there is returned even if the in-memory write
// succeeded, since the caller may rely on durability across restarts.
func (c *BlobCache) Put(ctx context.Context, kind, key string, data []byte) error {
	_, span := telemetry.StartCacheSpan(ctx, "disk", "put", key)
	defer span.End()

	if err := c.disk.Put(kind, key, data); err != nil {
		return err
	}
	if c.mem != nil {
		if err := c.mem.Set(key, data); err != nil {
			klog.V(3).Infof("cache: memory tier write for %s failed: %v", key, err)
		}
	}
	return nil
}

// Stats returns a snapshot of this cache's own hit/miss/eviction/bytes-saved
// counters, independent of whether a Prometheus registry is wired up.
func (c *BlobCache) Stats() Snapshot {
	return c.stats.Snapshot()
}

// BigcacheStats reports the in-memory tier's internal bigcache
// statistics (collisions, current capacity, etc.).
func (c *BlobCache) BigcacheStats() bigcache.Stats {
	if c.mem == nil {
		return bigcache.Stats{}
	}
	return c.mem.Stats()
}
