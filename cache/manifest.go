package cache

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/wowemulation-dev/ngdp/metrics"
)

func evictionReasonLabel(r ttlcache.EvictionReason) string {
	switch r {
	case ttlcache.EvictionReasonExpired:
		return "ttl"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonDeleted:
		return "invalidated"
	default:
		return "other"
	}
}

// ManifestKind distinguishes the response types that get differentiated
// TTLs: version manifests change often, CDN configs less so, and
// certificates almost never.
type ManifestKind int

const (
	KindVersions ManifestKind = iota
	KindCDNConfig
	KindCertificate
)

// ttl returns the freshness window for a manifest kind: 5 minutes for
// versions, 30 minutes for CDN configs, 30 days for certificates.
func (k ManifestKind) ttl() time.Duration {
	switch k {
	case KindVersions:
		return 5 * time.Minute
	case KindCDNConfig:
		return 30 * time.Minute
	case KindCertificate:
		return 30 * 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

func (k ManifestKind) ext() string {
	if k == KindCertificate {
		return "crt"
	}
	return "bpsv"
}

// ManifestKey builds the standard on-disk-and-cache key for a manifest
// response: protocol/region/product/endpoint-sequence, matching the
// installed layout ~/.cache/ngdp/{protocol}/{region}/{product}/{endpoint}-{sequence}.{ext}.
func ManifestKey(region, protocol, product, endpoint string, sequence uint32) string {
	return filepath.Join(protocol, region, product, endpoint+"-"+strconv.FormatUint(uint64(sequence), 10))
}

// ManifestCache is the short/medium/long-TTL tier for BPSV and
// certificate responses. Unlike BlobCache, entries here are not
// content-addressed, so staleness is a real concern: each entry expires
// on its kind's schedule, both in memory and (if diskDir is set) on disk
// via the file's modification time.
type ManifestCache struct {
	cache   *ttlcache.Cache[string, []byte]
	diskDir string // empty disables on-disk persistence
}

// NewManifestCache builds an in-memory manifest cache, optionally backed
// by diskDir for on-disk persistence across restarts (empty string
// disables persistence).
func NewManifestCache(diskDir string) (*ManifestCache, error) {
	c := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, []byte]) {
		metrics.CacheEvictions.WithLabelValues("manifest", evictionReasonLabel(reason)).Inc()
	})
	go c.Start()

	if diskDir != "" {
		if err := os.MkdirAll(diskDir, 0o755); err != nil {
			return nil, err
		}
	}
	return &ManifestCache{cache: c, diskDir: diskDir}, nil
}

func (m *ManifestCache) diskPath(kind ManifestKind, key string) string {
	return filepath.Join(m.diskDir, key+"."+kind.ext())
}

// Get returns the cached response for key if it has not expired. A
// process-memory miss falls through to the on-disk copy (if persistence
// is enabled), honoring the same TTL via the file's modification time;
// a fresh disk hit is reloaded into memory.
func (m *ManifestCache) Get(kind ManifestKind, key string) ([]byte, bool) {
	if item := m.cache.Get(key); item != nil {
		metrics.CacheRequests.WithLabelValues("manifest", "hit").Inc()
		metrics.CacheBytesSaved.WithLabelValues("manifest").Add(float64(len(item.Value())))
		return item.Value(), true
	}

	if m.diskDir != "" {
		path := m.diskPath(kind, key)
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < kind.ttl() {
			if data, err := os.ReadFile(path); err == nil {
				metrics.CacheRequests.WithLabelValues("manifest", "hit").Inc()
				metrics.CacheBytesSaved.WithLabelValues("manifest").Add(float64(len(data)))
				m.cache.Set(key, data, kind.ttl()-time.Since(info.ModTime()))
				return data, true
			}
		}
	}

	metrics.CacheRequests.WithLabelValues("manifest", "miss").Inc()
	return nil, false
}

// Set stores data for key with the TTL appropriate to kind, and persists
// it to disk (atomically, via a temp file and rename) when persistence
// is enabled.
func (m *ManifestCache) Set(kind ManifestKind, key string, data []byte) error {
	m.cache.Set(key, data, kind.ttl())

	if m.diskDir == "" {
		return nil
	}
	path := m.diskPath(kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Stop shuts down the cache's background expiration goroutine.
func (m *ManifestCache) Stop() {
	m.cache.Stop()
}

// Len reports the current in-memory entry count.
func (m *ManifestCache) Len() int {
	return m.cache.Len()
}
