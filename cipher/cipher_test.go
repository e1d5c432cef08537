package cipher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveNonceZeroPadsNotDuplicates(t *testing.T) {
	iv := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	nonce := DeriveNonce(iv, 0)
	require.Equal(t, [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0x00, 0x00, 0x00, 0x00}, nonce)
}

func TestDeriveNonceXorsChunkIndex(t *testing.T) {
	iv := [4]byte{0x00, 0x00, 0x00, 0x00}
	nonce := DeriveNonce(iv, 1)
	require.Equal(t, byte(1), nonce[0])
	require.Equal(t, byte(0), nonce[1])
}

func TestSalsa20Symmetric(t *testing.T) {
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	iv := [4]byte{0x12, 0x34, 0x56, 0x78}
	plain := []byte("the quick brown fox jumps over the lazy dog")

	enc := make([]byte, len(plain))
	Salsa20(enc, plain, key, iv, 3)

	dec := make([]byte, len(plain))
	Salsa20(dec, enc, key, iv, 3)

	require.Equal(t, plain, dec)
	require.NotEqual(t, plain, enc)
}

func TestARC4Symmetric(t *testing.T) {
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	iv := [4]byte{0x12, 0x34, 0x56, 0x78}
	plain := []byte("the quick brown fox jumps over the lazy dog")

	enc := make([]byte, len(plain))
	require.NoError(t, ARC4(enc, plain, key, iv, 7))

	dec := make([]byte, len(plain))
	require.NoError(t, ARC4(dec, enc, key, iv, 7))

	require.Equal(t, plain, dec)
}
