package cdnindex

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"
)

func ekeyFor(b byte) []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestBuildAndFind(t *testing.T) {
	entries := []BuildEntry{
		{EKey: ekeyFor(0x01), EncodedSize: 100, Offset: 0},
		{EKey: ekeyFor(0x05), EncodedSize: 200, Offset: 100},
		{EKey: ekeyFor(0x09), EncodedSize: 300, Offset: 300},
	}
	data := Build(entries, BuildOptions{EKeyLength: 16, PageSizeKB: 4})

	table, err := Load(data, true)
	require.NoError(t, err)
	require.EqualValues(t, 3, table.ElementCount())

	e, ok, err := table.Find(ekeyFor(0x05))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 200, e.EncodedSize)
	require.EqualValues(t, 100, e.Offset)

	_, ok, err = table.Find(ekeyFor(0x07))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildGroupSlotDeterministic(t *testing.T) {
	entries := []GroupEntry{
		{EKey: ekeyFor(0x01), EncodedSize: 10, SourceOffset: 5, SourceArchive: "archiveA"},
		{EKey: ekeyFor(0x02), EncodedSize: 20, SourceOffset: 15, SourceArchive: "archiveB"},
	}
	data1, slots1, _ := BuildGroup(entries, BuildOptions{EKeyLength: 16, PageSizeKB: 4})
	data2, slots2, _ := BuildGroup([]GroupEntry{entries[1], entries[0]}, BuildOptions{EKeyLength: 16, PageSizeKB: 4})

	require.Equal(t, data1, data2, "permuting input order must produce byte-identical output")
	require.Equal(t, slots1, slots2)

	table, err := Load(data1, true)
	require.NoError(t, err)
	e, ok, err := table.Find(ekeyFor(0x01))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.IsGroup)
	require.Equal(t, AssignSlot(ekeyFor(0x01)), e.ArchiveIndex)
	require.EqualValues(t, 5, e.Offset)
}

func TestAssignSlotMatchesMD5FirstFourBytes(t *testing.T) {
	k := ekeyFor(0xAB)
	sum := md5.Sum(k)
	want := uint16((uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])) % 65536)
	require.Equal(t, want, AssignSlot(k))
}
