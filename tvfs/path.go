package tvfs

import (
	"encoding/binary"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// folderBit marks a trie NodeValue as a folder pointer (the remaining 31
// bits address a child node list by byte offset into the path table)
// rather than a leaf (the remaining 31 bits are a VFS-table byte offset).
// Matches spec.md §4.7's "bit-31 distinguishing folder vs file".
const folderBit uint32 = 1 << 31

// trieEntry is one sibling in a path-trie node list: a literal prefix run
// terminated by a 0xFF marker byte and a 4-byte NodeValue.
type trieEntry struct {
	prefix      []byte
	isFolder    bool
	childOffset uint32 // valid when isFolder
	vfsOffset   uint32 // valid when !isFolder
}

// parseTrieList parses one node list: a 1-byte sibling count, followed by
// that many {prefix..., 0xFF, value} entries. This framing (an explicit
// count rather than an implicit terminator) is this implementation's own
// resolution of spec.md §4.7's otherwise-underspecified "0xFF NodeValue
// markers" description; see DESIGN.md.
func parseTrieList(buf []byte, pos int) ([]trieEntry, int, error) {
	if pos >= len(buf) {
		return nil, pos, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS path table: node list count out of range"}
	}
	count := int(buf[pos])
	pos++
	entries := make([]trieEntry, 0, count)
	for i := 0; i < count; i++ {
		start := pos
		for pos < len(buf) && buf[pos] != 0xFF {
			pos++
		}
		if pos >= len(buf) {
			return nil, pos, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS path table: missing 0xFF node marker"}
		}
		prefix := buf[start:pos]
		pos++ // skip 0xFF
		if pos+4 > len(buf) {
			return nil, pos, &ngdperr.Protocol{Kind: "truncated", Detail: "TVFS path table: truncated node value"}
		}
		value := binary.BigEndian.Uint32(buf[pos : pos+4])
		pos += 4
		e := trieEntry{prefix: append([]byte(nil), prefix...)}
		if value&folderBit != 0 {
			e.isFolder = true
			e.childOffset = value &^ folderBit
		} else {
			e.vfsOffset = value
		}
		entries = append(entries, e)
	}
	return entries, pos, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
