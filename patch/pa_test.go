package patch

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustKey(b byte) []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = b
	}
	return k
}

func writeUint40BE(buf *bytes.Buffer, v uint64) {
	var b [5]byte
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
	buf.Write(b[:])
}

func buildTestManifest(t *testing.T) (*Manifest, []byte, []byte) {
	t.Helper()
	targetCKey := mustKey(0xAA)
	sourceEKey := mustKey(0xBB)
	patchEKey := mustKey(0xCC)

	const blockSizeBits = 12
	const blockSize = 1 << blockSizeBits

	var block bytes.Buffer
	block.WriteByte(1) // num_patches
	block.Write(targetCKey)
	writeUint40BE(&block, 12)
	block.Write(sourceEKey)
	writeUint40BE(&block, 12)
	block.Write(patchEKey)
	var patchSize [4]byte
	binary.BigEndian.PutUint32(patchSize[:], 99)
	block.Write(patchSize[:])
	block.WriteByte(0) // patch_index
	block.WriteByte(0) // sentinel num_patches==0
	for block.Len() < blockSize {
		block.WriteByte(0)
	}
	blockBytes := block.Bytes()[:blockSize]
	blockMD5 := md5.Sum(blockBytes)

	var buf bytes.Buffer
	buf.WriteString("PA")
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // file key size
	buf.WriteByte(16) // old key size
	buf.WriteByte(16) // patch key size
	buf.WriteByte(blockSizeBits)
	var blockCount [2]byte
	binary.BigEndian.PutUint16(blockCount[:], 1)
	buf.Write(blockCount[:])
	buf.WriteByte(0) // flags

	buf.Write(targetCKey) // last_ckey of the (only) block
	buf.Write(blockMD5[:])
	var blockOffset [4]byte
	binary.BigEndian.PutUint32(blockOffset[:], 0)
	buf.Write(blockOffset[:])

	buf.Write(blockBytes)

	m, err := Parse(buf.Bytes())
	require.NoError(t, err)
	return m, sourceEKey, targetCKey
}

func TestFindFileEntryDirectMatch(t *testing.T) {
	m, sourceEKey, targetCKey := buildTestManifest(t)

	fe, err := m.FindFileEntry(targetCKey, true)
	require.NoError(t, err)
	require.EqualValues(t, 12, fe.DecodedSize)
	require.Len(t, fe.Patches, 1)
	require.Equal(t, sourceEKey, fe.Patches[0].SourceEKey)

	chain, err := m.BuildChain(sourceEKey, targetCKey, nil, true)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Equal(t, fe.Patches[0].PatchEKey, chain[0].PatchEKey)
}

func TestBuildChainNoPath(t *testing.T) {
	m, _, targetCKey := buildTestManifest(t)
	resolve := func(ckey []byte) ([]byte, bool) { return nil, false }
	_, err := m.BuildChain(mustKey(0x01), targetCKey, resolve, true)
	require.Error(t, err)
}
