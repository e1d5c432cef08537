package rootfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendU32BE(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64BE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// buildV1Block encodes one v1 block: header (n, content_flags, locale_flags),
// delta-encoded FileDataIDs, CKeys, then name hashes (v1 always carries them).
func buildV1Block(fileDataIDs []uint32, ckeys [][16]byte, hashes []uint64, contentFlags uint32, localeFlags uint32) []byte {
	var buf []byte
	buf = appendU32BE(buf, uint32(len(fileDataIDs)))
	buf = appendU32BE(buf, contentFlags)
	buf = appendU32BE(buf, localeFlags)

	var prev int64 = -1
	for i, id := range fileDataIDs {
		if i == 0 {
			buf = appendU32BE(buf, id)
		} else {
			delta := int64(id) - prev - 1
			buf = appendU32BE(buf, uint32(delta))
		}
		prev = int64(id)
	}
	for _, ck := range ckeys {
		buf = append(buf, ck[:]...)
	}
	for _, h := range hashes {
		buf = appendU64BE(buf, h)
	}
	return buf
}

func mustKey(b byte) [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestParseV1NoMagicFieldOrder(t *testing.T) {
	ckeyA := mustKey(0x01)
	ckeyB := mustKey(0x02)
	hashA := HashPath("Interface/FrameXML/Foo.lua")
	hashB := HashPath("Interface\\FrameXML\\Bar.lua")

	block := buildV1Block(
		[]uint32{10, 20},
		[][16]byte{ckeyA, ckeyB},
		[]uint64{hashA, hashB},
		0, 0xFFFFFFFF, // enUS-like wide locale mask
	)

	m, err := Parse(block)
	require.NoError(t, err)
	require.Equal(t, V1, m.Version)
	require.Len(t, m.Blocks, 1)
	require.Equal(t, uint32(10), m.Blocks[0].Records[0].FileDataID)
	require.Equal(t, uint32(20), m.Blocks[0].Records[1].FileDataID)

	got, ok := m.ResolvePath("interface/framexml/foo.lua", 0, 0)
	require.True(t, ok)
	require.Equal(t, ckeyA, got)

	got2, ok := m.ResolveFileDataID(20, 0, 0)
	require.True(t, ok)
	require.Equal(t, ckeyB, got2)
}

func TestParseV2MagicImplicitHeader(t *testing.T) {
	ckey := mustKey(0x05)
	hash := HashPath("a.txt")

	var buf []byte
	buf = append(buf, []byte("MFST")...)
	buf = appendU32BE(buf, 1) // total_file_count
	buf = appendU32BE(buf, 1) // named_file_count

	// v2 block header: n, locale_flags, content_flags, unk2(1), unk3(4)
	buf = appendU32BE(buf, 1)
	buf = appendU32BE(buf, 0xFFFFFFFF)
	buf = appendU32BE(buf, 0)
	buf = append(buf, 0x00) // unk2, NoNameHash not set
	buf = appendU32BE(buf, 0)

	buf = appendU32BE(buf, 42) // absolute fileDataID
	buf = append(buf, ckey[:]...)
	buf = appendU64BE(buf, hash)

	m, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, V2, m.Version)

	got, ok := m.ResolveFileDataID(42, 0, 0)
	require.True(t, ok)
	require.Equal(t, ckey, got)
}

func TestNoNameHashFlagSkipsHashArray(t *testing.T) {
	ckey := mustKey(0x09)

	var buf []byte
	buf = append(buf, []byte("MFST")...)
	buf = appendU32BE(buf, 1)
	buf = appendU32BE(buf, 1)

	buf = appendU32BE(buf, 1)
	buf = appendU32BE(buf, 0xFFFFFFFF)
	buf = appendU32BE(buf, 0)
	buf = append(buf, 0x02) // NoNameHash set
	buf = appendU32BE(buf, 0)

	buf = appendU32BE(buf, 7)
	buf = append(buf, ckey[:]...)

	m, err := Parse(buf)
	require.NoError(t, err)
	require.True(t, m.Blocks[0].NoNameHash)
	require.False(t, m.Blocks[0].Records[0].HasNameHash)

	got, ok := m.ResolveFileDataID(7, 0, 0)
	require.True(t, ok)
	require.Equal(t, ckey, got)
}

func TestLocaleFilterExcludesNonMatchingBlock(t *testing.T) {
	ckeyEU := mustKey(0x0A)
	blockUS := buildV1Block([]uint32{1}, [][16]byte{mustKey(0x0B)}, []uint64{HashPath("x")}, 0, 0x02)
	blockEU := buildV1Block([]uint32{1}, [][16]byte{ckeyEU}, []uint64{HashPath("y")}, 0, 0x04)

	m, err := Parse(append(blockUS, blockEU...))
	require.NoError(t, err)
	require.Len(t, m.Blocks, 2)

	got, ok := m.ResolveFileDataID(1, 0x04, 0)
	require.True(t, ok)
	require.Equal(t, ckeyEU, got)

	_, ok = m.ResolveFileDataID(1, 0x08, 0)
	require.False(t, ok)
}

func TestHashPathNormalizesCaseAndSeparators(t *testing.T) {
	require.Equal(t, HashPath("A/B/C"), HashPath("a\\b\\c"))
	require.NotEqual(t, HashPath("A/B/C"), HashPath("A/B/D"))
}

func TestParseRejectsTruncatedV1Block(t *testing.T) {
	buf := []byte{0, 0, 0, 1} // claims 1 record, but header is short
	_, err := Parse(buf)
	require.Error(t, err)
}
