// Package patch implements the PA patch-manifest format and zbsdiff1
// binary delta application used to turn an older EKey's bytes into a
// newer CKey's bytes without a full re-download.
//
// Grounded on the teacher's store/index package for the
// "block-table-of-contents, load blocks lazily, verify a checksum before
// trusting the block" discipline (PA's block table plays the same role as
// the teacher's bucket index), and on compactindexsized's binary-search
// pattern for finding the block that covers a given key.
package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

const headerSize = 10

// Header is the 10-byte PA manifest header.
type Header struct {
	Version       uint8
	FileKeySize   uint8 // target CKey size, typically 16
	OldKeySize    uint8 // source EKey size, typically 16
	PatchKeySize  uint8 // patch-file EKey size, typically 16
	BlockSizeBits uint8 // in [12,24]
	BlockCount    uint16
	Flags         uint8
}

func parseHeader(buf []byte) (Header, int, error) {
	var h Header
	if len(buf) < headerSize || buf[0] != 'P' || buf[1] != 'A' {
		return h, 0, &ngdperr.Protocol{Kind: "bad_magic", Detail: "missing PA magic"}
	}
	h.Version = buf[2]
	if h.Version != 1 && h.Version != 2 {
		return h, 0, &ngdperr.Protocol{Kind: "bad_header", Detail: fmt.Sprintf("unsupported PA version %d", h.Version)}
	}
	h.FileKeySize = buf[3]
	h.OldKeySize = buf[4]
	h.PatchKeySize = buf[5]
	h.BlockSizeBits = buf[6]
	if h.BlockSizeBits < 12 || h.BlockSizeBits > 24 {
		return h, 0, &ngdperr.Protocol{Kind: "bad_header", Detail: "block_size_bits out of range"}
	}
	h.BlockCount = binary.BigEndian.Uint16(buf[7:9])
	h.Flags = buf[9]
	pos := headerSize
	// flags&0x02 introduces an extended header describing the manifest's
	// own encoding; its contents aren't needed to read the block table
	// that follows, so we only need to know its length to skip it, which
	// is carried in the next 4 bytes (declared extended-header length) per
	// the conventional TACT sub-header pattern used elsewhere (ESpec
	// trailing region, encoding table trailing ESpec).
	if h.Flags&0x02 != 0 {
		if len(buf) < pos+4 {
			return h, 0, &ngdperr.Protocol{Kind: "truncated", Detail: "PA extended header length truncated"}
		}
		extLen := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
		pos += 4 + extLen
	}
	return h, pos, nil
}

// BlockTableEntry is one {last_ckey, block_md5, block_offset} record.
type BlockTableEntry struct {
	LastCKey    []byte
	BlockMD5    [16]byte
	BlockOffset uint32
}

// Manifest is a parsed PA patch manifest with its block table held ready
// for binary search; individual blocks are parsed lazily from buf on
// demand by FindFileEntry.
type Manifest struct {
	header     Header
	blockTable []BlockTableEntry
	buf        []byte
	blocksEnd  int // end offset of the block table region within buf
}

// Parse parses the PA header and block table (not the blocks themselves).
func Parse(buf []byte) (*Manifest, error) {
	h, pos, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	entrySize := int(h.FileKeySize) + 16 + 4
	tableBytes := int(h.BlockCount) * entrySize
	if pos+tableBytes > len(buf) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "PA block table overruns buffer"}
	}

	table := make([]BlockTableEntry, h.BlockCount)
	for i := 0; i < int(h.BlockCount); i++ {
		e := buf[pos+i*entrySize : pos+(i+1)*entrySize]
		entry := BlockTableEntry{LastCKey: append([]byte(nil), e[:h.FileKeySize]...)}
		copy(entry.BlockMD5[:], e[h.FileKeySize:int(h.FileKeySize)+16])
		entry.BlockOffset = binary.BigEndian.Uint32(e[int(h.FileKeySize)+16:])
		table[i] = entry
	}
	if !sort.SliceIsSorted(table, func(i, j int) bool {
		return bytes.Compare(table[i].LastCKey, table[j].LastCKey) < 0
	}) {
		return nil, &ngdperr.Protocol{Kind: "unsorted", Detail: "PA block table not sorted by last_ckey"}
	}

	return &Manifest{header: h, blockTable: table, buf: buf, blocksEnd: pos + tableBytes}, nil
}

// PatchInfo is one candidate patch for reaching a file entry's target CKey.
type PatchInfo struct {
	SourceEKey        []byte
	SourceDecodedSize uint64
	PatchEKey         []byte
	PatchSize         uint32
	PatchIndex        uint8
}

// FileEntry is one file's patch options within a block.
type FileEntry struct {
	TargetCKey  []byte
	DecodedSize uint64
	Patches     []PatchInfo
}

// Block is a parsed block body: a sequence of file entries.
type Block struct {
	Entries []FileEntry
}

func readUint40BE(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}

// parseBlock parses one block's file-entry sequence, terminated by a
// num_patches==0 sentinel.
func parseBlock(buf []byte, fileKeySize, oldKeySize, patchKeySize int) (*Block, error) {
	block := &Block{}
	pos := 0
	for pos < len(buf) {
		numPatches := int(buf[pos])
		pos++
		if numPatches == 0 {
			break
		}
		if pos+fileKeySize+5 > len(buf) {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "PA file entry truncated"}
		}
		fe := FileEntry{
			TargetCKey:  append([]byte(nil), buf[pos:pos+fileKeySize]...),
			DecodedSize: readUint40BE(buf[pos+fileKeySize : pos+fileKeySize+5]),
		}
		pos += fileKeySize + 5

		patchEntrySize := oldKeySize + 5 + patchKeySize + 4 + 1
		if pos+numPatches*patchEntrySize > len(buf) {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "PA patch list truncated"}
		}
		fe.Patches = make([]PatchInfo, numPatches)
		for i := 0; i < numPatches; i++ {
			e := buf[pos : pos+patchEntrySize]
			p := PatchInfo{
				SourceEKey:        append([]byte(nil), e[:oldKeySize]...),
				SourceDecodedSize: readUint40BE(e[oldKeySize : oldKeySize+5]),
				PatchEKey:         append([]byte(nil), e[oldKeySize+5:oldKeySize+5+patchKeySize]...),
				PatchSize:         binary.BigEndian.Uint32(e[oldKeySize+5+patchKeySize : oldKeySize+5+patchKeySize+4]),
				PatchIndex:        e[oldKeySize+5+patchKeySize+4],
			}
			fe.Patches[i] = p
			pos += patchEntrySize
		}
		block.Entries = append(block.Entries, fe)
	}
	return block, nil
}

// FindFileEntry binary-searches the block table for the smallest block
// with last_ckey >= targetCKey, loads that block (the validate argument
// controls whether its MD5 is checked first), and returns
// the matching file entry.
func (m *Manifest) FindFileEntry(targetCKey []byte, validate bool) (*FileEntry, error) {
	i := sort.Search(len(m.blockTable), func(i int) bool {
		return bytes.Compare(m.blockTable[i].LastCKey, targetCKey) >= 0
	})
	if i == len(m.blockTable) {
		return nil, &ngdperr.Missing{Kind: "patch_target", Resource: fmt.Sprintf("%x", targetCKey)}
	}

	block, err := m.loadBlock(i, validate)
	if err != nil {
		return nil, err
	}
	for j := range block.Entries {
		if bytes.Equal(block.Entries[j].TargetCKey, targetCKey) {
			return &block.Entries[j], nil
		}
	}
	return nil, &ngdperr.Missing{Kind: "patch_target", Resource: fmt.Sprintf("%x", targetCKey)}
}

func (m *Manifest) loadBlock(i int, validate bool) (*Block, error) {
	bte := m.blockTable[i]
	start := m.blocksEnd + int(bte.BlockOffset)
	blockSize := 1 << m.header.BlockSizeBits
	end := start + blockSize
	if end > len(m.buf) {
		end = len(m.buf)
	}
	if start > len(m.buf) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "PA block offset beyond buffer"}
	}
	raw := m.buf[start:end]
	if validate {
		// Only the declared block_size_bits-sized region, not any zero
		// padding tail, participates in the checksum: spec.md names the
		// block MD5 as validating "its block", i.e. the block_offset
		// region as written, so we hash exactly `blockSize` bytes when the
		// file has that many remaining.
		sum := md5Sum(raw)
		if sum != bte.BlockMD5 {
			return nil, &ngdperr.Integrity{Kind: "block_md5", Resource: fmt.Sprintf("PA block %d", i), Expected: fmt.Sprintf("%x", bte.BlockMD5), Actual: fmt.Sprintf("%x", sum)}
		}
	}
	return parseBlock(raw, int(m.header.FileKeySize), int(m.header.OldKeySize), int(m.header.PatchKeySize))
}

// Header returns the parsed manifest header.
func (m *Manifest) Header() Header { return m.header }
