package cdn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchLooseReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello-loose"))
	}))
	defer srv.Close()

	c := NewClient(nil, []Mirror{{Host: srv.Listener.Addr().String(), Path: "wow"}})
	out, err := c.FetchLoose(context.Background(), "aabbccdd", KindData)
	require.NoError(t, err)
	require.Equal(t, []byte("hello-loose"), out)
}

func TestFetchLooseFallsThroughOn404(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("found-on-second-mirror"))
	}))
	defer good.Close()

	c := NewClient(nil, []Mirror{
		{Host: bad.Listener.Addr().String(), Path: "wow"},
		{Host: good.Listener.Addr().String(), Path: "wow"},
	})
	out, err := c.FetchLoose(context.Background(), "ee00ff11", KindData)
	require.NoError(t, err)
	require.Equal(t, []byte("found-on-second-mirror"), out)
}

func TestFetchArchiveRangeUsesRangeHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=10-19", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	c := NewClient(nil, []Mirror{{Host: srv.Listener.Addr().String(), Path: "wow"}})
	out, err := c.FetchArchiveRange(context.Background(), "0011223344", 10, 10)
	require.NoError(t, err)
	require.Len(t, out, 10)
}

func TestFetchArchiveRangeServesFromCacheOnSecondCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := NewClient(nil, []Mirror{{Host: srv.Listener.Addr().String(), Path: "wow"}})
	_, err := c.FetchArchiveRange(context.Background(), "deadbeef00", 0, 10)
	require.NoError(t, err)
	out, err := c.FetchArchiveRange(context.Background(), "deadbeef00", 0, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), out)
	require.Equal(t, 1, calls)
}

func TestFetchArchiveIndexUsesArchiveList(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("xy"))
	}))
	defer srv.Close()

	c := NewClient(nil, []Mirror{{Host: srv.Listener.Addr().String(), Path: "wow"}})
	c.SetArchives([]string{"first00000000000000000000000000", "second0000000000000000000000000"})

	out, err := c.FetchArchiveIndex(context.Background(), 1, 0, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("xy"), out)
	require.Contains(t, gotPath, "second0000000000000000000000000")
}

func TestArchiveRangeCacheEvictsByByteBudget(t *testing.T) {
	c := newArchiveRangeCache(15)
	c.put("a", 0, make([]byte, 10))
	c.put("a", 100, make([]byte, 10))

	_, ok := c.get("a", 0, 10)
	require.False(t, ok, "oldest range should have been evicted")
	_, ok = c.get("a", 100, 10)
	require.True(t, ok)
}

func TestArchiveRangeCacheGetRequiresFullContainment(t *testing.T) {
	c := newArchiveRangeCache(1 << 20)
	c.put("a", 10, []byte("0123456789"))

	_, ok := c.get("a", 15, 20)
	require.False(t, ok)

	v, ok := c.get("a", 12, 4)
	require.True(t, ok)
	require.Equal(t, []byte("2345"), v)
}
