package blte

import (
	"bytes"
	"fmt"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// ArchiveEntry records one BLTE file's position inside a concatenated
// archive blob, plus enough of its header to tell raw from compressed
// bodies without re-decoding them.
type ArchiveEntry struct {
	Offset     int64
	Size       int64
	HeaderSize uint32
	Mode       byte // mode byte of the first chunk; 0 if the file has none
}

// SplitArchive walks a concatenated archive blob (the format of a CDN
// data.NNN archive: adjacent complete BLTE files with no separators) and
// records the offset and size of each, without decompressing bodies. The
// recorded entries let a caller reconstruct the exact input bytes later,
// which is the point: archives are re-served to clients verbatim, so this
// mode never needs to touch the compressed payload, only the chunk table.
func SplitArchive(blob []byte) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	pos := int64(0)
	for pos < int64(len(blob)) {
		remaining := blob[pos:]
		hdr, headerLen, err := ParseHeader(remaining)
		if err != nil {
			return nil, &ngdperr.Protocol{Kind: "bad_archive", Detail: fmt.Sprintf("at offset %d: %v", pos, err)}
		}

		size, mode, err := archiveEntrySize(remaining, hdr, headerLen)
		if err != nil {
			return nil, &ngdperr.Protocol{Kind: "bad_archive", Detail: fmt.Sprintf("at offset %d: %v", pos, err)}
		}

		entries = append(entries, ArchiveEntry{
			Offset:     pos,
			Size:       size,
			HeaderSize: hdr.HeaderSize,
			Mode:       mode,
		})
		pos += size
	}
	return entries, nil
}

// archiveEntrySize determines how many bytes one BLTE file occupies
// starting at the header already parsed into hdr. For the standard
// chunk-table form this is header plus the sum of compressed chunk sizes.
// The header_size==0 single-chunk form has no declared length, so within a
// bare concatenation it cannot be split unambiguously; it is always
// rejected.
func archiveEntrySize(remaining []byte, hdr *Header, headerLen int) (int64, byte, error) {
	if hdr.SingleChunk {
		return 0, 0, fmt.Errorf("blte: archive recreation requires explicit chunk tables, got header_size==0")
	}
	total := int64(headerLen)
	var mode byte
	for i, c := range hdr.Chunks {
		total += int64(c.CompressedSize)
		if i == 0 {
			bodyStart := headerLen
			if bodyStart < len(remaining) {
				mode = remaining[bodyStart]
			}
		}
	}
	return total, mode, nil
}

// Recombine re-concatenates the raw bytes backing entries from blob,
// verifying the result matches blob byte-for-byte. It exists to make the
// "byte-identical" contract explicit and testable rather than assumed.
func Recombine(blob []byte, entries []ArchiveEntry) ([]byte, error) {
	var out bytes.Buffer
	for _, e := range entries {
		if e.Offset+e.Size > int64(len(blob)) {
			return nil, fmt.Errorf("blte: archive entry at %d overruns blob", e.Offset)
		}
		out.Write(blob[e.Offset : e.Offset+e.Size])
	}
	if !bytes.Equal(out.Bytes(), blob) {
		return nil, fmt.Errorf("blte: recombined archive is not byte-identical to the original")
	}
	return out.Bytes(), nil
}
