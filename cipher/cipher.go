// Package cipher implements the two NGDP-specific stream-cipher key/IV
// derivations used by BLTE mode "E" chunks: Salsa20/20 and ARC4. Both are
// symmetric XOR-stream ciphers, so encrypt and decrypt are the same
// operation.
//
// Grounded on the "derive then apply a standard primitive" shape the teacher
// uses for its own hashing helpers (xxhash-based bucket assignment in
// compactindexsized): no key management here, bytes in, bytes out.
package cipher

import (
	"crypto/rc4"

	"golang.org/x/crypto/salsa20"
)

// DeriveNonce zero-pads a 4-byte BLTE IV to 8 bytes, then XORs the first 4
// bytes with the little-endian bytes of chunkIndex. The zero-padding (not
// duplication) is deliberate: see spec.md §9 Open Questions — a duplicated
// IV was an earlier, buggy derivation and must not be reproduced.
func DeriveNonce(iv [4]byte, chunkIndex uint32) [8]byte {
	var nonce [8]byte
	copy(nonce[:4], iv[:])
	for i := 0; i < 4; i++ {
		nonce[i] ^= byte(chunkIndex >> (8 * i))
	}
	return nonce
}

// Salsa20 applies the Salsa20/20 stream cipher with a zero block counter.
// The 16-byte key is duplicated to the 32-byte form Salsa20 expects; the
// nonce is the 8-byte result of DeriveNonce.
func Salsa20(dst, src []byte, key [16]byte, iv [4]byte, chunkIndex uint32) {
	var key32 [32]byte
	copy(key32[:16], key[:])
	copy(key32[16:], key[:])

	nonce := DeriveNonce(iv, chunkIndex)
	salsa20.XORKeyStream(dst, src, &nonce, &key32)
}

// ARC4 derives a 32-byte RC4 key as key(16) || iv(4) || chunkIndex_le32(4)
// || zeros(8), then applies RC4 keystream XOR.
func ARC4(dst, src []byte, key [16]byte, iv [4]byte, chunkIndex uint32) error {
	var rc4Key [32]byte
	copy(rc4Key[:16], key[:])
	copy(rc4Key[16:20], iv[:])
	rc4Key[20] = byte(chunkIndex)
	rc4Key[21] = byte(chunkIndex >> 8)
	rc4Key[22] = byte(chunkIndex >> 16)
	rc4Key[23] = byte(chunkIndex >> 24)
	// rc4Key[24:32] stays zero.

	c, err := rc4.NewCipher(rc4Key[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(dst, src)
	return nil
}
