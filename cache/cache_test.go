package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiskCachePutGetRoundTrip(t *testing.T) {
	d, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Put("data", "AABBCCDD", []byte("hello")))

	got, ok, err := d.Get("data", "aabbccdd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestDiskCacheGetMissingReturnsNotOK(t *testing.T) {
	d, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	_, ok, err := d.Get("data", "deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDiskCacheRemove(t *testing.T) {
	d, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, d.Put("config", "cafef00d", []byte("x")))
	require.NoError(t, d.Remove("config", "cafef00d"))

	_, ok, err := d.Get("config", "cafef00d")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBlobCacheGetPromotesDiskHitToMemory(t *testing.T) {
	ctx := context.Background()
	c, err := NewBlobCache(ctx, t.TempDir(), Options{Memory: DefaultMemoryConfig()})
	require.NoError(t, err)

	require.NoError(t, c.disk.Put("data", "11223344", []byte("payload")))

	out, ok, err := c.Get(ctx, "data", "11223344")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), out)

	snap := c.Stats()
	require.EqualValues(t, 1, snap.Hits)
	require.EqualValues(t, len("payload"), snap.BytesSaved)

	v, err := c.mem.Get("11223344")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), v)
}

func TestBlobCacheGetMissRecordsMiss(t *testing.T) {
	ctx := context.Background()
	c, err := NewBlobCache(ctx, t.TempDir(), Options{Memory: DefaultMemoryConfig()})
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "data", "notpresent")
	require.NoError(t, err)
	require.False(t, ok)
	require.EqualValues(t, 1, c.Stats().Misses)
}

func TestBlobCachePutThenGetHitsMemory(t *testing.T) {
	ctx := context.Background()
	c, err := NewBlobCache(ctx, t.TempDir(), Options{Memory: DefaultMemoryConfig()})
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "data", "55667788", []byte("abc")))

	out, ok, err := c.Get(ctx, "data", "55667788")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), out)
}

func TestManifestCacheTTLPerKind(t *testing.T) {
	m, err := NewManifestCache("")
	require.NoError(t, err)
	defer m.Stop()

	m.Set(KindVersions, "wow/versions", []byte("v1"))
	m.Set(KindCertificate, "cert/abc", []byte("cert-bytes"))

	v, ok := m.Get(KindVersions, "wow/versions")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	c, ok := m.Get(KindCertificate, "cert/abc")
	require.True(t, ok)
	require.Equal(t, []byte("cert-bytes"), c)

	require.Equal(t, 5*time.Minute, KindVersions.ttl())
	require.Equal(t, 30*time.Minute, KindCDNConfig.ttl())
	require.Equal(t, 30*24*time.Hour, KindCertificate.ttl())
}

func TestManifestCacheMissReturnsFalse(t *testing.T) {
	m, err := NewManifestCache("")
	require.NoError(t, err)
	defer m.Stop()

	_, ok := m.Get(KindVersions, "nope")
	require.False(t, ok)
}

func TestManifestCachePersistsToDiskAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	key := ManifestKey("us", "tact", "wow", "versions", 0)

	m1, err := NewManifestCache(dir)
	require.NoError(t, err)
	require.NoError(t, m1.Set(KindVersions, key, []byte("body")))
	m1.Stop()

	m2, err := NewManifestCache(dir)
	require.NoError(t, err)
	defer m2.Stop()

	data, ok := m2.Get(KindVersions, key)
	require.True(t, ok)
	require.Equal(t, []byte("body"), data)
}
