package resolver

import (
	"context"
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wowemulation-dev/ngdp/blte"
	"github.com/wowemulation-dev/ngdp/cascindex"
	"github.com/wowemulation-dev/ngdp/cdnindex"
)

type fakePaths struct {
	byPath map[string][16]byte
}

func (f fakePaths) ResolvePath(path string, _ uint32, _ uint64) ([16]byte, bool) {
	c, ok := f.byPath[path]
	return c, ok
}
func (f fakePaths) ResolveFileDataID(uint32, uint32, uint64) ([16]byte, bool) { return [16]byte{}, false }

type fakeEncoding struct {
	byCKey map[[16]byte][][16]byte
}

func (f fakeEncoding) FindAllEKeys(ckey [16]byte) [][16]byte { return f.byCKey[ckey] }

type fakeLocalIndex struct {
	byEKey map[[16]byte]struct {
		loc  cascindex.Location
		size uint32
	}
}

func (f fakeLocalIndex) Find(ekey [16]byte) (cascindex.Location, uint32, bool) {
	v, ok := f.byEKey[ekey]
	return v.loc, v.size, ok
}

type fakeArchiveReader struct {
	data []byte
}

func (f fakeArchiveReader) ReadLocal(_ context.Context, _ cascindex.Location, _ uint32) ([]byte, error) {
	return f.data, nil
}

type fakeCDNIndex struct {
	byEKey map[[16]byte]cdnindex.Entry
}

func (f fakeCDNIndex) Find(ekey []byte) (cdnindex.Entry, bool, error) {
	var k [16]byte
	copy(k[:], ekey)
	e, ok := f.byEKey[k]
	return e, ok, nil
}

// blteWrap builds a minimal single-chunk header_size==0 BLTE container
// around plaintext, the simplest encoding blte.Decode accepts.
func blteWrap(t *testing.T, plain []byte) []byte {
	t.Helper()
	out, err := blte.Encode([]blte.ChunkPlan{{Mode: blte.ModeRaw, Plaintext: plain}}, false)
	require.NoError(t, err)
	return out
}

func TestResolveLocalHit(t *testing.T) {
	plain := []byte("hello world this is local content")
	ckey := md5.Sum(plain)
	ekey := [16]byte{0x01}

	r := &Resolver{
		Paths:    fakePaths{byPath: map[string][16]byte{"a.txt": ckey}},
		Encoding: fakeEncoding{byCKey: map[[16]byte][][16]byte{ckey: {ekey}}},
		Local: fakeLocalIndex{byEKey: map[[16]byte]struct {
			loc  cascindex.Location
			size uint32
		}{ekey: {loc: cascindex.Location{ArchiveIndex: 0, Offset: 0}, size: 100}}},
		Archive: fakeArchiveReader{data: blteWrap(t, plain)},
	}

	out, err := r.Resolve(context.Background(), Ref{Path: "a.txt"})
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestResolveFallsThroughToCDNArchive(t *testing.T) {
	plain := []byte("content served from a cdn archive")
	ckey := md5.Sum(plain)
	ekey := [16]byte{0x02}

	r := &Resolver{
		Encoding: fakeEncoding{byCKey: map[[16]byte][][16]byte{ckey: {ekey}}},
		CDNIdx: fakeCDNIndex{byEKey: map[[16]byte]cdnindex.Entry{
			ekey: {EKey: ekey[:], EncodedSize: 9999, Offset: 0, ArchiveIndex: 3},
		}},
		CDN: CDNFetcher{
			FetchRange: func(_ context.Context, archiveIndex uint16, _, _ uint32) ([]byte, error) {
				require.EqualValues(t, 3, archiveIndex)
				return blteWrap(t, plain), nil
			},
		},
	}

	out, err := r.Resolve(context.Background(), Ref{CKey: ckey, HasCKey: true})
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestResolveFallsThroughToLooseFetch(t *testing.T) {
	plain := []byte("loose fetched content")
	ckey := md5.Sum(plain)
	ekey := [16]byte{0x03}

	looseCalled := false
	r := &Resolver{
		Encoding: fakeEncoding{byCKey: map[[16]byte][][16]byte{ckey: {ekey}}},
		CDN: CDNFetcher{
			FetchLoose: func(_ context.Context, gotEKey [16]byte, kind string) ([]byte, error) {
				looseCalled = true
				require.Equal(t, ekey, gotEKey)
				require.Equal(t, "data", kind)
				return blteWrap(t, plain), nil
			},
		},
	}

	out, err := r.Resolve(context.Background(), Ref{CKey: ckey, HasCKey: true})
	require.NoError(t, err)
	require.Equal(t, plain, out)
	require.True(t, looseCalled)
}

func TestResolveTriesNextEKeyOnHashMismatch(t *testing.T) {
	plain := []byte("the real content")
	ckey := md5.Sum(plain)
	badEKey := [16]byte{0x10}
	goodEKey := [16]byte{0x11}

	r := &Resolver{
		Encoding: fakeEncoding{byCKey: map[[16]byte][][16]byte{ckey: {badEKey, goodEKey}}},
		CDN: CDNFetcher{
			FetchLoose: func(_ context.Context, ekey [16]byte, _ string) ([]byte, error) {
				if ekey == badEKey {
					return blteWrap(t, []byte("wrong content entirely")), nil
				}
				return blteWrap(t, plain), nil
			},
		},
	}

	out, err := r.Resolve(context.Background(), Ref{CKey: ckey, HasCKey: true})
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestResolveMissingCKeyFails(t *testing.T) {
	r := &Resolver{
		Encoding: fakeEncoding{byCKey: map[[16]byte][][16]byte{}},
	}
	_, err := r.Resolve(context.Background(), Ref{CKey: [16]byte{0x99}, HasCKey: true})
	require.Error(t, err)
}

func TestResolveBareEKeySkipsHashValidation(t *testing.T) {
	plain := []byte("no ckey known for this one")
	ekey := [16]byte{0x20}
	r := &Resolver{
		CDN: CDNFetcher{
			FetchLoose: func(_ context.Context, _ [16]byte, _ string) ([]byte, error) {
				return blteWrap(t, plain), nil
			},
		},
	}
	out, err := r.Resolve(context.Background(), Ref{EKey: ekey, HasEKey: true})
	require.NoError(t, err)
	require.Equal(t, plain, out)
}
