package blte

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/wowemulation-dev/ngdp/cipher"
)

// ChunkPlan describes how to encode one output chunk: either "store"
// uncompressed or "zlib"-compress the given plaintext slice. Encryption is
// layered on top by EncryptPlan, mirroring how an ESpec tree nests `e:{...}`
// around an inner operation.
type ChunkPlan struct {
	Plaintext []byte
	Mode      byte // ModeRaw or ModeZlib; other modes are not emitted by this builder
	Encrypt   *EncryptPlan
}

// EncryptPlan wraps a chunk's encoded bytes in a BLTE "E" envelope.
type EncryptPlan struct {
	KeyName   uint64
	IV        [4]byte
	InnerMode byte // 'S' (Salsa20) or 'A' (ARC4)
	Key       [16]byte
}

// Encode builds a complete BLTE file from a set of chunk plans. extended
// selects the 0x10 chunk-table format, which additionally stores an MD5 of
// each chunk's plaintext.
func Encode(chunks []ChunkPlan, extended bool) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("blte: no chunks to encode")
	}
	if len(chunks) == 1 && chunks[0].Encrypt == nil {
		// A single, unencrypted chunk may use the header_size==0 shortcut.
		body, err := encodeChunkBody(chunks[0], 0)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, 8+len(body))
		out = append(out, Magic[:]...)
		out = binary.BigEndian.AppendUint32(out, 0)
		out = append(out, body...)
		return out, nil
	}

	flags := byte(FlagsStandard)
	entrySize := 24
	if extended {
		flags = FlagsExtended
		entrySize = 40
	}

	bodies := make([][]byte, len(chunks))
	for i, c := range chunks {
		body, err := encodeChunkBody(c, i)
		if err != nil {
			return nil, err
		}
		bodies[i] = body
	}

	headerSize := 12 + len(chunks)*entrySize
	out := make([]byte, 0, headerSize+sumLen(bodies))
	out = append(out, Magic[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(headerSize))
	out = append(out, flags)
	n := len(chunks)
	out = append(out, byte(n>>16), byte(n>>8), byte(n))

	for i, body := range bodies {
		sum := md5.Sum(body) // checksum is over the wire bytes, including the "E" wrapper when present
		out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
		out = binary.BigEndian.AppendUint32(out, uint32(len(chunks[i].Plaintext)))
		out = append(out, sum[:]...)
		if extended {
			plainSum := md5.Sum(chunks[i].Plaintext)
			out = append(out, plainSum[:]...)
		}
	}
	for _, body := range bodies {
		out = append(out, body...)
	}
	return out, nil
}

func sumLen(bs [][]byte) int {
	n := 0
	for _, b := range bs {
		n += len(b)
	}
	return n
}

func encodeChunkBody(c ChunkPlan, chunkIndex int) ([]byte, error) {
	var inner []byte
	switch c.Mode {
	case ModeRaw, 0:
		inner = append([]byte{ModeRaw}, c.Plaintext...)
	case ModeZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(c.Plaintext); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		inner = append([]byte{ModeZlib}, buf.Bytes()...)
	default:
		return nil, fmt.Errorf("blte: encoder does not support mode 0x%02X", c.Mode)
	}

	if c.Encrypt == nil {
		return inner, nil
	}
	return encryptWrap(inner, *c.Encrypt, chunkIndex)
}

func encryptWrap(inner []byte, p EncryptPlan, chunkIndex int) ([]byte, error) {
	encrypted := make([]byte, len(inner))
	switch p.InnerMode {
	case 'S':
		cipher.Salsa20(encrypted, inner, p.Key, p.IV, uint32(chunkIndex))
	case 'A':
		if err := cipher.ARC4(encrypted, inner, p.Key, p.IV, uint32(chunkIndex)); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("blte: unsupported inner mode %q", p.InnerMode)
	}

	out := make([]byte, 0, 15+len(encrypted))
	out = append(out, ModeEncrypted)
	out = append(out, encKeySizeWant)
	out = binary.LittleEndian.AppendUint64(out, p.KeyName)
	out = append(out, encIVSizeWant)
	out = append(out, p.IV[:]...)
	out = append(out, p.InnerMode)
	out = append(out, encrypted...)
	return out, nil
}
