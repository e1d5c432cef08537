package blte

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitArchiveThenRecombineIsByteIdentical(t *testing.T) {
	file1, err := Encode([]ChunkPlan{
		{Plaintext: []byte("alpha"), Mode: ModeRaw},
		{Plaintext: []byte("beta"), Mode: ModeZlib},
	}, false)
	require.NoError(t, err)

	file2, err := Encode([]ChunkPlan{
		{Plaintext: []byte("gamma delta "), Mode: ModeZlib},
		{Plaintext: []byte("epsilon"), Mode: ModeZlib},
	}, false)
	require.NoError(t, err)

	blob := append(append([]byte{}, file1...), file2...)

	entries, err := SplitArchive(blob)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 0, entries[0].Offset)
	require.EqualValues(t, len(file1), entries[0].Size)
	require.EqualValues(t, len(file1), entries[1].Offset)
	require.EqualValues(t, len(file2), entries[1].Size)

	rebuilt, err := Recombine(blob, entries)
	require.NoError(t, err)
	require.Equal(t, blob, rebuilt)
}

func TestSplitArchiveRejectsSingleChunkSentinel(t *testing.T) {
	out, err := Encode([]ChunkPlan{{Plaintext: []byte("x"), Mode: ModeRaw}}, false)
	require.NoError(t, err)

	_, err = SplitArchive(out)
	require.Error(t, err)
}
