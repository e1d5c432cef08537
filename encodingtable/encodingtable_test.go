package encodingtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCKey(b byte) [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestBuildThenParseRoundTrip(t *testing.T) {
	ckeyA := mustCKey(0x01)
	ckeyB := mustCKey(0x02)
	ekeyA1 := mustCKey(0x11)
	ekeyA2 := mustCKey(0x12)
	ekeyB1 := mustCKey(0x21)

	ckeys := []CKeyInput{
		{CKey: ckeyA, FileSize: 1000, EKeys: [][16]byte{ekeyA1, ekeyA2}},
		{CKey: ckeyB, FileSize: 2000, EKeys: [][16]byte{ekeyB1}},
	}
	ekeys := []EKeyInput{
		{EKey: ekeyA1, ESpec: "z", EncodedSize: 900},
		{EKey: ekeyA2, ESpec: "n", EncodedSize: 1000},
		{EKey: ekeyB1, ESpec: "z", EncodedSize: 1800},
	}

	built, err := Build(ckeys, ekeys, BuildOptions{CKeyPageSizeKB: 4, EKeyPageSizeKB: 4})
	require.NoError(t, err)

	table, err := Parse(built, int64(len(built)))
	require.NoError(t, err)

	got := table.FindAllEKeys(ckeyA)
	require.True(t, len(got) > 0)
	require.ElementsMatch(t, [][16]byte{ekeyA1, ekeyA2}, got)

	first, ok := table.FindEKey(ckeyA)
	require.True(t, ok)
	require.Equal(t, ekeyA1, first)

	size, ok := table.FileSize(ckeyB)
	require.True(t, ok)
	require.EqualValues(t, 2000, size)

	espec, ok := table.FindESpec(ekeyA1)
	require.True(t, ok)
	require.Equal(t, "z", espec)

	espec2, ok := table.FindESpec(ekeyA2)
	require.True(t, ok)
	require.Equal(t, "n", espec2)
}

func TestFindAllEKeysMissingCKeyReturnsEmpty(t *testing.T) {
	ckeys := []CKeyInput{{CKey: mustCKey(0x01), FileSize: 10, EKeys: [][16]byte{mustCKey(0x11)}}}
	ekeys := []EKeyInput{{EKey: mustCKey(0x11), ESpec: "n", EncodedSize: 10}}
	built, err := Build(ckeys, ekeys, BuildOptions{CKeyPageSizeKB: 4, EKeyPageSizeKB: 4})
	require.NoError(t, err)

	table, err := Parse(built, int64(len(built)))
	require.NoError(t, err)

	eks := table.FindAllEKeys(mustCKey(0xFF))
	require.Empty(t, eks)
}

func TestBatchFindEKeys(t *testing.T) {
	ckeyA, ckeyB := mustCKey(0x01), mustCKey(0x02)
	ekeyA, ekeyB := mustCKey(0x11), mustCKey(0x22)
	ckeys := []CKeyInput{
		{CKey: ckeyA, FileSize: 10, EKeys: [][16]byte{ekeyA}},
		{CKey: ckeyB, FileSize: 20, EKeys: [][16]byte{ekeyB}},
	}
	ekeys := []EKeyInput{
		{EKey: ekeyA, ESpec: "n", EncodedSize: 10},
		{EKey: ekeyB, ESpec: "n", EncodedSize: 20},
	}
	built, err := Build(ckeys, ekeys, BuildOptions{CKeyPageSizeKB: 4, EKeyPageSizeKB: 4})
	require.NoError(t, err)

	table, err := Parse(built, int64(len(built)))
	require.NoError(t, err)

	res := table.BatchFindEKeys([][16]byte{ckeyA, ckeyB})
	require.ElementsMatch(t, [][16]byte{ekeyA}, res[ckeyA])
	require.ElementsMatch(t, [][16]byte{ekeyB}, res[ckeyB])
}

func TestTrailingESpecRecoveredFromTotalSize(t *testing.T) {
	ckeys := []CKeyInput{{CKey: mustCKey(0x01), FileSize: 10, EKeys: [][16]byte{mustCKey(0x11)}}}
	ekeys := []EKeyInput{{EKey: mustCKey(0x11), ESpec: "n", EncodedSize: 10}}
	built, err := Build(ckeys, ekeys, BuildOptions{CKeyPageSizeKB: 4, EKeyPageSizeKB: 4})
	require.NoError(t, err)

	trailing := "b:{22=n,2069=z}"
	withTrailer := append(append([]byte{}, built...), []byte(trailing)...)

	table, err := Parse(withTrailer, int64(len(withTrailer)))
	require.NoError(t, err)
	require.Equal(t, trailing, table.TrailingESpec())
}

func TestParseRejectsCorruptPage(t *testing.T) {
	ckeys := []CKeyInput{{CKey: mustCKey(0x01), FileSize: 10, EKeys: [][16]byte{mustCKey(0x11)}}}
	ekeys := []EKeyInput{{EKey: mustCKey(0x11), ESpec: "n", EncodedSize: 10}}
	built, err := Build(ckeys, ekeys, BuildOptions{CKeyPageSizeKB: 4, EKeyPageSizeKB: 4})
	require.NoError(t, err)

	// Flip a byte near the end of the buffer, inside the body of the last
	// page (the EKey page), so that page's MD5 check fails.
	built[len(built)-10] ^= 0xFF

	_, err = Parse(built, int64(len(built)))
	require.Error(t, err)
}
