// Package tvfs implements the TACT Virtual File System manifest: a
// path-trie namespace layered over a span table and a fixed-stride content
// file table (CFT), the modern replacement for the flat Root manifest.
//
// Grounded on the teacher's compactindexsized package for the
// "table of small fixed-stride records, addressed by a computed byte
// offset, whose field widths are chosen once for the whole file" shape —
// here realized as the CFT's per-file variable stride (driven by header
// flags) and the VFS/CFT offset-width rule spec.md §4.7 describes.
package tvfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// Flag bits controlling which optional CFT fields are present. The exact
// bit assignment is not pinned down by spec.md beyond naming the optional
// fields (CKey, EST index, patch pointer); this assignment is this
// implementation's own, round-tripped consistently by Build/Parse (see
// DESIGN.md).
const (
	FlagHasEST   uint32 = 1 << 0
	FlagHasCKey  uint32 = 1 << 1
	FlagHasPatch uint32 = 1 << 2
)

const baseHeaderSize = 42 // through MaxDepth, before the optional EST table fields

// Header is the parsed TVFS header.
type Header struct {
	FormatVersion  uint8
	EKeySize       uint8 // 9
	PatchKeySize   uint8 // 9
	Flags          uint32
	PathTableOff   uint32
	PathTableSize  uint32
	VFSTableOff    uint32
	VFSTableSize   uint32
	CFTTableOff    uint32
	CFTTableSize   uint32
	MaxDepth       uint16
	ESTTableOff    uint32
	ESTTableSize   uint32
}

func parseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < baseHeaderSize || !bytes.Equal(buf[:4], []byte("TVFS")) {
		return h, &ngdperr.Protocol{Kind: "bad_magic", Detail: "missing TVFS magic"}
	}
	h.FormatVersion = buf[4]
	if h.FormatVersion != 1 {
		return h, &ngdperr.Protocol{Kind: "bad_header", Detail: fmt.Sprintf("unsupported TVFS format %d", h.FormatVersion)}
	}
	// buf[5] is the declared header size; informational, we derive layout
	// from Flags instead of trusting it blindly.
	h.EKeySize = buf[6]
	h.PatchKeySize = buf[7]
	h.Flags = binary.BigEndian.Uint32(buf[8:12])
	h.PathTableOff = binary.BigEndian.Uint32(buf[12:16])
	h.PathTableSize = binary.BigEndian.Uint32(buf[16:20])
	h.VFSTableOff = binary.BigEndian.Uint32(buf[20:24])
	h.VFSTableSize = binary.BigEndian.Uint32(buf[24:28])
	h.CFTTableOff = binary.BigEndian.Uint32(buf[28:32])
	h.CFTTableSize = binary.BigEndian.Uint32(buf[32:36])
	h.MaxDepth = binary.BigEndian.Uint16(buf[36:38])
	// bytes [38:42) reserved/alignment in this layout's fixed prefix.
	pos := baseHeaderSize
	if h.Flags&FlagHasEST != 0 {
		if len(buf) < pos+8 {
			return h, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS header missing EST table descriptor"}
		}
		h.ESTTableOff = binary.BigEndian.Uint32(buf[pos : pos+4])
		h.ESTTableSize = binary.BigEndian.Uint32(buf[pos+4 : pos+8])
	}
	return h, nil
}

func (h Header) bytes() []byte {
	b := make([]byte, baseHeaderSize)
	copy(b[0:4], "TVFS")
	b[4] = h.FormatVersion
	b[5] = byte(baseHeaderSize)
	b[6] = h.EKeySize
	b[7] = h.PatchKeySize
	binary.BigEndian.PutUint32(b[8:12], h.Flags)
	binary.BigEndian.PutUint32(b[12:16], h.PathTableOff)
	binary.BigEndian.PutUint32(b[16:20], h.PathTableSize)
	binary.BigEndian.PutUint32(b[20:24], h.VFSTableOff)
	binary.BigEndian.PutUint32(b[24:28], h.VFSTableSize)
	binary.BigEndian.PutUint32(b[28:32], h.CFTTableOff)
	binary.BigEndian.PutUint32(b[32:36], h.CFTTableSize)
	binary.BigEndian.PutUint16(b[36:38], h.MaxDepth)
	if h.Flags&FlagHasEST != 0 {
		ext := make([]byte, 8)
		binary.BigEndian.PutUint32(ext[0:4], h.ESTTableOff)
		binary.BigEndian.PutUint32(ext[4:8], h.ESTTableSize)
		b = append(b, ext...)
	}
	return b
}

// widthFor implements the shared VFS/CFT offset-width rule: the number of
// bytes needed to hold values up to maxValue, clamped to the 1-4 byte
// range spec.md §4.7 specifies.
func widthFor(maxValue uint32) int {
	switch {
	case maxValue > 0xFFFFFF:
		return 4
	case maxValue > 0xFFFF:
		return 3
	case maxValue > 0xFF:
		return 2
	default:
		return 1
	}
}

func readWidth(b []byte, width int) uint32 {
	var v uint32
	for i := 0; i < width; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func putWidth(b []byte, width int, v uint32) {
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// CFTEntry is one resolved content-file-table record.
type CFTEntry struct {
	EKey        []byte
	EncodedSize uint32
	CKey        []byte // only set when FlagHasCKey
	ESTIndex    uint32 // only meaningful when FlagHasEST
	HasEST      bool
	PatchOffset uint32 // only set when FlagHasPatch
	HasPatch    bool
}

// Span describes one contiguous region of a file's content, per spec.md
// §3: a VFS entry is one or more of these, each pointing at a CFT record.
type Span struct {
	FileOffset uint32
	SpanLength uint32
	CFTOffset  uint32
}

// Manifest is a fully parsed TVFS file, ready for path or span resolution.
type Manifest struct {
	header     Header
	buf        []byte
	pathTable  []byte
	estStrings []string

	cftOffsetWidth int
	estIndexWidth  int
	cftStride      int
}

// Parse parses a complete TVFS manifest.
func Parse(buf []byte) (*Manifest, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if int(h.PathTableOff)+int(h.PathTableSize) > len(buf) ||
		int(h.VFSTableOff)+int(h.VFSTableSize) > len(buf) ||
		int(h.CFTTableOff)+int(h.CFTTableSize) > len(buf) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS table region overruns buffer"}
	}

	m := &Manifest{header: h, buf: buf}
	m.cftOffsetWidth = widthFor(h.CFTTableSize)

	estCount := uint32(0)
	if h.Flags&FlagHasEST != 0 {
		if int(h.ESTTableOff)+int(h.ESTTableSize) > len(buf) {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS EST table overruns buffer"}
		}
		m.estStrings = splitNullSeparated(buf[h.ESTTableOff : h.ESTTableOff+h.ESTTableSize])
		estCount = uint32(len(m.estStrings))
	}
	m.estIndexWidth = widthFor(estCount)

	stride := int(h.EKeySize) + 4
	if h.Flags&FlagHasCKey != 0 {
		stride += 16
	}
	if h.Flags&FlagHasEST != 0 {
		stride += m.estIndexWidth
	}
	if h.Flags&FlagHasPatch != 0 {
		stride += 4
	}
	m.cftStride = stride
	m.pathTable = buf[h.PathTableOff : h.PathTableOff+h.PathTableSize]

	// Validate the root node list parses before returning; callers then
	// walk it lazily (child lists may never be visited) via Resolve.
	if _, _, err := parseTrieList(m.pathTable, 0); err != nil {
		return nil, err
	}

	return m, nil
}

func splitNullSeparated(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	return out
}

// Header returns the manifest's parsed header, for diagnostics (`ngdp
// inspect install`) that want the format version and table layout without
// reaching into unexported fields.
func (m *Manifest) Header() Header { return m.header }

// CFTAt returns the CFT entry at a given byte offset within the CFT table.
func (m *Manifest) CFTAt(offset uint32) (CFTEntry, error) {
	table := m.buf[m.header.CFTTableOff : m.header.CFTTableOff+m.header.CFTTableSize]
	if int(offset)+m.cftStride > len(table) {
		return CFTEntry{}, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS CFT offset out of range"}
	}
	e := table[offset : offset+uint32(m.cftStride)]
	pos := 0
	entry := CFTEntry{EKey: append([]byte(nil), e[:m.header.EKeySize]...)}
	pos += int(m.header.EKeySize)
	entry.EncodedSize = binary.BigEndian.Uint32(e[pos : pos+4])
	pos += 4
	if m.header.Flags&FlagHasCKey != 0 {
		entry.CKey = append([]byte(nil), e[pos:pos+16]...)
		pos += 16
	}
	if m.header.Flags&FlagHasEST != 0 {
		entry.ESTIndex = readWidth(e[pos:], m.estIndexWidth)
		entry.HasEST = true
		pos += m.estIndexWidth
	}
	if m.header.Flags&FlagHasPatch != 0 {
		entry.PatchOffset = binary.BigEndian.Uint32(e[pos : pos+4])
		entry.HasPatch = true
	}
	return entry, nil
}

// ESpecFor returns the ESpec string referenced by a CFT entry's EST index.
func (m *Manifest) ESpecFor(e CFTEntry) (string, bool) {
	if !e.HasEST || int(e.ESTIndex) >= len(m.estStrings) {
		return "", false
	}
	return m.estStrings[e.ESTIndex], true
}

// SpansAt parses the span list stored at a VFS-table byte offset: a
// 1-byte span count followed by that many {file_offset, span_length,
// cft_offset} records, the last field using this file's cftOffsetWidth.
func (m *Manifest) SpansAt(vfsOffset uint32) ([]Span, error) {
	table := m.buf[m.header.VFSTableOff : m.header.VFSTableOff+m.header.VFSTableSize]
	if int(vfsOffset) >= len(table) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS VFS offset out of range"}
	}
	count := int(table[vfsOffset])
	pos := int(vfsOffset) + 1
	spanSize := 4 + 4 + m.cftOffsetWidth
	spans := make([]Span, count)
	for i := 0; i < count; i++ {
		if pos+spanSize > len(table) {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS span list truncated"}
		}
		spans[i] = Span{
			FileOffset: binary.BigEndian.Uint32(table[pos : pos+4]),
			SpanLength: binary.BigEndian.Uint32(table[pos+4 : pos+8]),
			CFTOffset:  readWidth(table[pos+8:], m.cftOffsetWidth),
		}
		pos += spanSize
	}
	return spans, nil
}

// Resolve resolves a path (matched against raw path-trie bytes) to its
// span list and, transitively, each span's CFT entry.
func (m *Manifest) Resolve(path string) ([]Span, bool, error) {
	vfsOffset, ok, err := m.lookupTrie(0, []byte(path))
	if err != nil || !ok {
		return nil, false, err
	}
	spans, err := m.SpansAt(vfsOffset)
	if err != nil {
		return nil, false, err
	}
	return spans, true, nil
}

// lookupTrie walks the path trie starting at the node list found at
// listOffset within the path table, consuming remaining path bytes against
// each sibling's literal prefix and recursing into folder pointers.
func (m *Manifest) lookupTrie(listOffset uint32, remaining []byte) (uint32, bool, error) {
	entries, _, err := parseTrieList(m.pathTable, int(listOffset))
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if len(e.prefix) > len(remaining) || !bytesEqual(e.prefix, remaining[:len(e.prefix)]) {
			continue
		}
		rest := remaining[len(e.prefix):]
		if e.isFolder {
			// Build stores path segments without their '/' separators, so a
			// folder match must be followed by one before descending.
			if len(rest) < 2 || rest[0] != '/' {
				continue
			}
			return m.lookupTrie(e.childOffset, rest[1:])
		}
		if len(rest) == 0 {
			return e.vfsOffset, true, nil
		}
	}
	return 0, false, nil
}
