package patch

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

const zbsdiffHeaderSize = 32

// ZBSDiff1Header is the 32-byte little-endian header of a zbsdiff1 patch,
// a deliberate exception to the broader NGDP big-endian convention (spec.md
// §9 Mixed endianness).
type ZBSDiff1Header struct {
	ControlSize int64
	DiffSize    int64
	OutputSize  int64
}

func parseZBSDiff1Header(buf []byte) (ZBSDiff1Header, error) {
	var h ZBSDiff1Header
	if len(buf) < zbsdiffHeaderSize || string(buf[:8]) != "ZBSDIFF1" {
		return h, &ngdperr.Protocol{Kind: "bad_magic", Detail: "missing ZBSDIFF1 magic"}
	}
	h.ControlSize = int64(binary.LittleEndian.Uint64(buf[8:16]))
	h.DiffSize = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.OutputSize = int64(binary.LittleEndian.Uint64(buf[24:32]))
	return h, nil
}

// controlTriple is one (diff_copy_len, extra_copy_len, source_seek) entry
// from the decompressed control stream.
type controlTriple struct {
	DiffCopyLen  int64
	ExtraCopyLen int64
	SourceSeek   int64
}

func readControlTriple(r io.Reader) (controlTriple, bool, error) {
	var buf [24]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return controlTriple{}, false, nil
	}
	if err != nil {
		return controlTriple{}, false, err
	}
	return controlTriple{
		DiffCopyLen:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		ExtraCopyLen: int64(binary.LittleEndian.Uint64(buf[8:16])),
		SourceSeek:   int64(binary.LittleEndian.Uint64(buf[16:24])),
	}, true, nil
}

// maxZBSDiffOutput bounds output_size against runaway/corrupt headers; the
// resolver's caller may override with a tighter limit via ApplyWithLimit.
const maxZBSDiffOutput = 1 << 32

// Apply applies a zbsdiff1 patch to source, producing output_size bytes,
// and validates the result's MD5 against expectedTargetCKey (pass a
// zero-value [16]byte to skip validation).
func Apply(patchBuf, source []byte, expectedTargetCKey [16]byte, validateCKey bool) ([]byte, error) {
	return ApplyWithLimit(patchBuf, source, expectedTargetCKey, validateCKey, maxZBSDiffOutput)
}

// ApplyWithLimit is Apply with an explicit output_size ceiling.
func ApplyWithLimit(patchBuf, source []byte, expectedTargetCKey [16]byte, validateCKey bool, limit int64) ([]byte, error) {
	h, err := parseZBSDiff1Header(patchBuf)
	if err != nil {
		return nil, err
	}
	if h.OutputSize < 0 || h.OutputSize > limit {
		return nil, &ngdperr.Protocol{Kind: "bad_header", Detail: fmt.Sprintf("zbsdiff1 output_size %d exceeds limit %d", h.OutputSize, limit)}
	}

	pos := zbsdiffHeaderSize
	if pos+int(h.ControlSize)+int(h.DiffSize) > len(patchBuf) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "zbsdiff1 control/diff streams overrun buffer"}
	}
	controlCompressed := patchBuf[pos : pos+int(h.ControlSize)]
	pos += int(h.ControlSize)
	diffCompressed := patchBuf[pos : pos+int(h.DiffSize)]
	pos += int(h.DiffSize)
	extraCompressed := patchBuf[pos:]

	controlR, err := zlib.NewReader(bytes.NewReader(controlCompressed))
	if err != nil {
		return nil, &ngdperr.Protocol{Kind: "bad_zlib", Detail: "zbsdiff1 control stream: " + err.Error()}
	}
	defer controlR.Close()
	diffR, err := zlib.NewReader(bytes.NewReader(diffCompressed))
	if err != nil {
		return nil, &ngdperr.Protocol{Kind: "bad_zlib", Detail: "zbsdiff1 diff stream: " + err.Error()}
	}
	defer diffR.Close()
	extraR, err := zlib.NewReader(bytes.NewReader(extraCompressed))
	if err != nil {
		return nil, &ngdperr.Protocol{Kind: "bad_zlib", Detail: "zbsdiff1 extra stream: " + err.Error()}
	}
	defer extraR.Close()

	out := make([]byte, 0, h.OutputSize)
	sourcePos := int64(0)

	for int64(len(out)) < h.OutputSize {
		triple, ok, err := readControlTriple(controlR)
		if err != nil {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "zbsdiff1 control stream: " + err.Error()}
		}
		if !ok {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "zbsdiff1 control stream exhausted before output_size reached"}
		}

		if triple.DiffCopyLen > 0 {
			diffed := make([]byte, triple.DiffCopyLen)
			if _, err := io.ReadFull(diffR, diffed); err != nil {
				return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "zbsdiff1 diff stream: " + err.Error()}
			}
			for i := int64(0); i < triple.DiffCopyLen; i++ {
				srcIdx := sourcePos + i
				var sb byte
				if srcIdx >= 0 && srcIdx < int64(len(source)) {
					sb = source[srcIdx]
				}
				diffed[i] ^= sb
			}
			out = append(out, diffed...)
			sourcePos += triple.DiffCopyLen
		}

		if triple.ExtraCopyLen > 0 {
			extra := make([]byte, triple.ExtraCopyLen)
			if _, err := io.ReadFull(extraR, extra); err != nil {
				return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "zbsdiff1 extra stream: " + err.Error()}
			}
			out = append(out, extra...)
		}

		sourcePos += triple.SourceSeek
	}

	if int64(len(out)) != h.OutputSize {
		out = out[:h.OutputSize]
	}

	if validateCKey {
		sum := md5.Sum(out)
		if sum != expectedTargetCKey {
			return nil, &ngdperr.Integrity{Kind: "ckey_mismatch", Resource: "zbsdiff1 output", Expected: fmt.Sprintf("%x", expectedTargetCKey), Actual: fmt.Sprintf("%x", sum)}
		}
	}

	return out, nil
}
