// Package cdnindex implements the CDN archive index: the format a CDN
// mirror publishes alongside each data.NNN archive, mapping an EKey to the
// archive offset and size of its BLTE-encoded bytes, plus the client-side
// archive-group synthesis that merges many such indices into one.
//
// Grounded on the teacher's compactindexsized package for the
// footer-then-table-of-contents-then-pages shape: load the footer first to
// learn the record geometry, binary-search a chunk boundary table, then
// linearly scan the matched chunk, validating checksums before trusting
// anything — the same discipline compactindexsized applies to its own
// bucketed lookup table.
package cdnindex

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

const footerSize = 28

// Footer is the trailing 28-byte descriptor of a CDN archive index. Every
// field is big-endian except ElementCount, which is little-endian — the
// one deliberate exception spec.md §9 calls out by name.
type Footer struct {
	TOCHash         [8]byte
	Version         uint8
	PageSizeKB      uint8
	OffsetBytes     uint8
	SizeBytes       uint8
	EKeyLength      uint8
	FooterHashBytes uint8
	ElementCount    uint32
	FooterHash      [8]byte
}

func parseFooter(buf []byte) (Footer, error) {
	var f Footer
	if len(buf) < footerSize {
		return f, &ngdperr.Protocol{Kind: "truncated", Detail: "archive index shorter than footer"}
	}
	b := buf[len(buf)-footerSize:]
	copy(f.TOCHash[:], b[0:8])
	f.Version = b[8]
	// b[9:11] reserved
	f.PageSizeKB = b[11]
	f.OffsetBytes = b[12]
	f.SizeBytes = b[13]
	f.EKeyLength = b[14]
	f.FooterHashBytes = b[15]
	f.ElementCount = binary.LittleEndian.Uint32(b[16:20])
	copy(f.FooterHash[:], b[20:28])
	if f.Version > 1 {
		return f, &ngdperr.Protocol{Kind: "bad_header", Detail: fmt.Sprintf("unsupported archive index version %d", f.Version)}
	}
	return f, nil
}

// footerHash recomputes the footer's own validation hash: MD5 of the
// 28-byte footer with the FooterHash field zeroed, truncated to
// FooterHashBytes.
func (f Footer) footerHash(raw []byte) []byte {
	footer := make([]byte, footerSize)
	copy(footer, raw[len(raw)-footerSize:])
	for i := 20; i < 28; i++ {
		footer[i] = 0
	}
	sum := md5.Sum(footer)
	return sum[:f.FooterHashBytes]
}

func (f Footer) entrySize() int {
	return int(f.EKeyLength) + int(f.SizeBytes) + int(f.OffsetBytes)
}

func (f Footer) tocEntrySize() int {
	return int(f.EKeyLength) + 16
}

func (f Footer) pageBytes() int {
	return int(f.PageSizeKB) * 1024
}

func (f Footer) entriesPerChunk() int {
	return f.pageBytes() / f.entrySize()
}

func (f Footer) numChunks() int {
	perChunk := f.entriesPerChunk()
	if perChunk == 0 {
		return 0
	}
	n := int(f.ElementCount) / perChunk
	if int(f.ElementCount)%perChunk != 0 {
		n++
	}
	return n
}

// Entry is one resolved archive index record. For a plain (non-group)
// index the archive is implied by which index file was loaded, and
// ArchiveIndex/IsGroup are unused. For an archive-group index (OffsetBytes
// == 6), ArchiveIndex is the hash-derived slot from
// archive-group synthesis, to be resolved against a client-maintained
// slot-to-archive table.
type Entry struct {
	EKey         []byte
	EncodedSize  uint32
	Offset       uint32
	ArchiveIndex uint16
	IsGroup      bool
}

// Table is a parsed, queryable CDN archive index.
type Table struct {
	footer   Footer
	chunks   [][]byte
	tocKeys  [][]byte
	tocMD5   [][16]byte
	validate bool
}

// Load parses a complete archive index file (entry chunks + TOC + footer).
// When validate is true, the footer hash and every chunk's TOC-recorded
// MD5 are checked before the table is returned usable.
func Load(buf []byte, validate bool) (*Table, error) {
	f, err := parseFooter(buf)
	if err != nil {
		return nil, err
	}
	if validate {
		want := f.footerHash(buf)
		if !bytes.Equal(want, f.FooterHash[:f.FooterHashBytes]) {
			return nil, &ngdperr.Integrity{Kind: "footer_md5", Resource: "archive index", Expected: fmt.Sprintf("%x", f.FooterHash[:f.FooterHashBytes]), Actual: fmt.Sprintf("%x", want)}
		}
	}

	numChunks := f.numChunks()
	pageBytes := f.pageBytes()
	entryRegionSize := numChunks * pageBytes

	tocEntrySize := f.tocEntrySize()
	tocSize := numChunks * tocEntrySize

	if entryRegionSize+tocSize+footerSize > len(buf) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "archive index shorter than computed layout"}
	}

	t := &Table{footer: f, validate: validate}
	t.chunks = make([][]byte, numChunks)
	for i := 0; i < numChunks; i++ {
		t.chunks[i] = buf[i*pageBytes : (i+1)*pageBytes]
	}

	tocBuf := buf[entryRegionSize : entryRegionSize+tocSize]
	if validate {
		tocSum := md5.Sum(tocBuf)
		if !bytes.Equal(tocSum[:8], f.TOCHash[:]) {
			return nil, &ngdperr.Integrity{Kind: "toc_md5", Resource: "archive index", Expected: fmt.Sprintf("%x", f.TOCHash), Actual: fmt.Sprintf("%x", tocSum[:8])}
		}
	}

	t.tocKeys = make([][]byte, numChunks)
	t.tocMD5 = make([][16]byte, numChunks)
	for i := 0; i < numChunks; i++ {
		entry := tocBuf[i*tocEntrySize : (i+1)*tocEntrySize]
		t.tocKeys[i] = entry[:f.EKeyLength]
		copy(t.tocMD5[i][:], entry[f.EKeyLength:])
		if validate {
			sum := md5.Sum(t.chunks[i])
			if !bytes.Equal(sum[:], t.tocMD5[i][:]) {
				return nil, &ngdperr.Integrity{Kind: "chunk_md5", Resource: fmt.Sprintf("archive index chunk %d", i), Expected: fmt.Sprintf("%x", t.tocMD5[i]), Actual: fmt.Sprintf("%x", sum)}
			}
		}
	}

	return t, nil
}

// Find looks up ekey (exactly EKeyLength bytes), binary-searching the
// chunk-boundary TOC then linearly scanning the matched chunk.
func (t *Table) Find(ekey []byte) (Entry, bool, error) {
	if len(ekey) != int(t.footer.EKeyLength) {
		return Entry{}, false, fmt.Errorf("cdnindex: ekey length %d, want %d", len(ekey), t.footer.EKeyLength)
	}
	chunkIdx := sort.Search(len(t.tocKeys), func(i int) bool {
		return bytes.Compare(t.tocKeys[i], ekey) >= 0
	})
	if chunkIdx == len(t.tocKeys) {
		return Entry{}, false, nil
	}

	chunk := t.chunks[chunkIdx]
	entrySize := t.footer.entrySize()
	isGroup := t.footer.OffsetBytes == 6
	for pos := 0; pos+entrySize <= len(chunk); pos += entrySize {
		key := chunk[pos : pos+int(t.footer.EKeyLength)]
		if allZero(key) {
			break // zero padding at the tail of the final chunk
		}
		cmp := bytes.Compare(key, ekey)
		if cmp < 0 {
			continue
		}
		if cmp > 0 {
			return Entry{}, false, nil
		}
		rest := chunk[pos+int(t.footer.EKeyLength):]
		encodedSize := binary.BigEndian.Uint32(rest[:4])
		e := Entry{EKey: append([]byte(nil), key...), EncodedSize: encodedSize, IsGroup: isGroup}
		if isGroup {
			e.ArchiveIndex = binary.BigEndian.Uint16(rest[4:6])
			e.Offset = binary.BigEndian.Uint32(rest[6:10])
		} else {
			e.Offset = binary.BigEndian.Uint32(rest[4:8])
		}
		return e, true, nil
	}
	return Entry{}, false, nil
}

// ElementCount returns the number of entries declared in the footer.
func (t *Table) ElementCount() uint32 { return t.footer.ElementCount }

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
