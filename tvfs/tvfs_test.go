package tvfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ekey(b byte) []byte {
	k := make([]byte, 9)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestResolveFlatFiles(t *testing.T) {
	files := []FileSpec{
		{
			Path:  "README.txt",
			Spans: []Span{{FileOffset: 0, SpanLength: 100}},
			CFT:   CFTEntry{EKey: ekey(0x11), EncodedSize: 100},
		},
		{
			Path:  "data/world.dat",
			Spans: []Span{{FileOffset: 0, SpanLength: 4096}},
			CFT:   CFTEntry{EKey: ekey(0x22), EncodedSize: 4096},
		},
		{
			Path:  "data/sound/intro.ogg",
			Spans: []Span{{FileOffset: 0, SpanLength: 2048}},
			CFT:   CFTEntry{EKey: ekey(0x33), EncodedSize: 2048},
		},
	}

	buf := Build(files, BuildOptions{})
	m, err := Parse(buf)
	require.NoError(t, err)

	for _, f := range files {
		spans, found, err := m.Resolve(f.Path)
		require.NoError(t, err)
		require.True(t, found, "path %q should resolve", f.Path)
		require.Len(t, spans, 1)
		require.Equal(t, f.Spans[0].SpanLength, spans[0].SpanLength)

		cft, err := m.CFTAt(spans[0].CFTOffset)
		require.NoError(t, err)
		require.Equal(t, f.CFT.EKey, cft.EKey)
		require.Equal(t, f.CFT.EncodedSize, cft.EncodedSize)
	}

	_, found, err := m.Resolve("does/not/exist")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = m.Resolve("data")
	require.NoError(t, err)
	require.False(t, found, "a folder path must not resolve as a file")
}

func TestResolveWithCKeyAndEST(t *testing.T) {
	est := []string{"z:1", "n,{}"}
	files := []FileSpec{
		{
			Path:  "a.m2",
			Spans: []Span{{FileOffset: 0, SpanLength: 10}},
			CFT: CFTEntry{
				EKey: ekey(0xAA), EncodedSize: 10,
				CKey: make([]byte, 16), HasEST: true, ESTIndex: 1,
			},
		},
	}
	buf := Build(files, BuildOptions{ESTStrings: est})
	m, err := Parse(buf)
	require.NoError(t, err)

	spans, found, err := m.Resolve("a.m2")
	require.NoError(t, err)
	require.True(t, found)

	cft, err := m.CFTAt(spans[0].CFTOffset)
	require.NoError(t, err)
	require.NotNil(t, cft.CKey)
	spec, ok := m.ESpecFor(cft)
	require.True(t, ok)
	require.Equal(t, "n,{}", spec)
}

func TestWidthForBoundaries(t *testing.T) {
	require.Equal(t, 1, widthFor(0))
	require.Equal(t, 1, widthFor(0xFF))
	require.Equal(t, 2, widthFor(0x100))
	require.Equal(t, 2, widthFor(0xFFFF))
	require.Equal(t, 3, widthFor(0x10000))
	require.Equal(t, 3, widthFor(0xFFFFFF))
	require.Equal(t, 4, widthFor(0x1000000))
}
