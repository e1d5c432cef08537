// Package encodingtable implements the TACT encoding table: the
// page-indexed binary-search structure mapping content keys (CKey) to
// encoding keys (EKey), with an interned ESpec string table describing how
// each EKey was encoded.
//
// Grounded on the teacher's compactindexsized package for its page/bucket
// shape — a header, a page (bucket) index holding a checksum per page, and
// a linear scan within the page located by binary search — adapted from
// compactindexsized's xxHash-bucketed perfect-hash table to this format's
// MD5-page, CKey/EKey dual-table layout, which is fixed by the wire format
// rather than chosen for query performance.
package encodingtable

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

const (
	headerSize    = 22
	especSentinel = 0xFFFFFFFF
)

// Header is the 22-byte encoding table header.
type Header struct {
	Version        uint8
	CKeySize       uint8
	EKeySize       uint8
	CKeyPageSizeKB uint16
	EKeyPageSizeKB uint16
	CKeyPageCount  uint32
	EKeyPageCount  uint32
	Flags          uint8
	ESpecTableSize uint32
}

func parseHeader(buf []byte) (*Header, error) {
	if len(buf) < headerSize {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "encoding table shorter than header"}
	}
	if buf[0] != 'E' || buf[1] != 'N' {
		return nil, &ngdperr.Protocol{Kind: "bad_magic", Detail: fmt.Sprintf("got %x", buf[:2])}
	}
	h := &Header{
		Version:        buf[2],
		CKeySize:       buf[3],
		EKeySize:       buf[4],
		CKeyPageSizeKB: binary.BigEndian.Uint16(buf[5:7]),
		EKeyPageSizeKB: binary.BigEndian.Uint16(buf[7:9]),
		CKeyPageCount:  binary.BigEndian.Uint32(buf[9:13]),
		EKeyPageCount:  binary.BigEndian.Uint32(buf[13:17]),
		Flags:          buf[17],
		ESpecTableSize: binary.BigEndian.Uint32(buf[18:22]),
	}
	if h.Version != 1 {
		return nil, &ngdperr.Protocol{Kind: "bad_header", Detail: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.CKeySize != 16 || h.EKeySize != 16 {
		return nil, &ngdperr.Protocol{Kind: "bad_header", Detail: "unexpected key size"}
	}
	return h, nil
}

func (h *Header) bytes() []byte {
	buf := make([]byte, headerSize)
	buf[0], buf[1] = 'E', 'N'
	buf[2] = h.Version
	buf[3] = h.CKeySize
	buf[4] = h.EKeySize
	binary.BigEndian.PutUint16(buf[5:7], h.CKeyPageSizeKB)
	binary.BigEndian.PutUint16(buf[7:9], h.EKeyPageSizeKB)
	binary.BigEndian.PutUint32(buf[9:13], h.CKeyPageCount)
	binary.BigEndian.PutUint32(buf[13:17], h.EKeyPageCount)
	buf[17] = h.Flags
	binary.BigEndian.PutUint32(buf[18:22], h.ESpecTableSize)
	return buf
}

// pageIndexEntry is the (first_key, page_md5) pair preceding each page.
type pageIndexEntry struct {
	FirstKey [16]byte
	PageMD5  [16]byte
}

// ckeyRecord is one decoded CKey-page record.
type ckeyRecord struct {
	CKey     [16]byte
	FileSize uint64
	EKeys    [][16]byte
}

// ekeyRecord is one decoded EKey-page record.
type ekeyRecord struct {
	EKey        [16]byte
	ESpecIndex  uint32
	EncodedSize uint64
}

// Table is a parsed, queryable encoding table.
type Table struct {
	header       *Header
	especStrings []string

	ckeyPageIdx []pageIndexEntry
	ckeyPages   [][]byte // raw page bytes, parsed lazily on scan

	ekeyPageIdx []pageIndexEntry
	ekeyPages   [][]byte

	trailingESpec string

	// cache memoizes recent CKey lookups keyed by xxHash of the CKey bytes,
	// accelerating BatchFindEKeys over repeated or overlapping batches
	// without re-scanning a page every time the same CKey recurs.
	cache map[uint64][][16]byte
}

// Parse parses a complete encoding table file, including its trailing
// self-describing ESpec (recovered using totalSize, the file's own size as
// reported by the BLTE layer, since the trailing region has no length
// prefix of its own).
func Parse(buf []byte, totalSize int64) (*Table, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	pos := headerSize
	if pos+int(h.ESpecTableSize) > len(buf) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "espec table overruns buffer"}
	}
	especTable := buf[pos : pos+int(h.ESpecTableSize)]
	pos += int(h.ESpecTableSize)

	t := &Table{header: h, especStrings: splitNullSeparated(especTable), cache: make(map[uint64][][16]byte)}

	t.ckeyPageIdx, pos, err = parsePageIndex(buf, pos, int(h.CKeyPageCount))
	if err != nil {
		return nil, err
	}
	ckeyPageBytes := int(h.CKeyPageSizeKB) * 1024
	t.ckeyPages, pos, err = splitPages(buf, pos, int(h.CKeyPageCount), ckeyPageBytes, t.ckeyPageIdx)
	if err != nil {
		return nil, err
	}

	t.ekeyPageIdx, pos, err = parsePageIndex(buf, pos, int(h.EKeyPageCount))
	if err != nil {
		return nil, err
	}
	ekeyPageBytes := int(h.EKeyPageSizeKB) * 1024
	t.ekeyPages, pos, err = splitPages(buf, pos, int(h.EKeyPageCount), ekeyPageBytes, t.ekeyPageIdx)
	if err != nil {
		return nil, err
	}

	if totalSize > int64(pos) {
		t.trailingESpec = string(bytes.TrimRight(buf[pos:totalSize], "\x00"))
	}

	return t, nil
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
	if start < len(buf) {
		out = append(out, string(buf[start:]))
	}
	return out
}

func parsePageIndex(buf []byte, pos, count int) ([]pageIndexEntry, int, error) {
	const entrySize = 32
	if pos+count*entrySize > len(buf) {
		return nil, 0, &ngdperr.Protocol{Kind: "truncated", Detail: "page index overruns buffer"}
	}
	idx := make([]pageIndexEntry, count)
	for i := 0; i < count; i++ {
		var e pageIndexEntry
		copy(e.FirstKey[:], buf[pos:pos+16])
		copy(e.PageMD5[:], buf[pos+16:pos+32])
		idx[i] = e
		pos += entrySize
	}
	return idx, pos, nil
}

func splitPages(buf []byte, pos, count, pageSize int, idx []pageIndexEntry) ([][]byte, int, error) {
	pages := make([][]byte, count)
	for i := 0; i < count; i++ {
		if pos+pageSize > len(buf) {
			return nil, 0, &ngdperr.Protocol{Kind: "truncated", Detail: fmt.Sprintf("page %d overruns buffer", i)}
		}
		page := buf[pos : pos+pageSize]
		sum := md5.Sum(page)
		if sum != idx[i].PageMD5 {
			return nil, 0, &ngdperr.Integrity{
				Kind: "corrupt_page", Resource: fmt.Sprintf("page %d", i),
				Expected: fmt.Sprintf("%x", idx[i].PageMD5), Actual: fmt.Sprintf("%x", sum),
			}
		}
		pages[i] = page
		pos += pageSize
	}
	return pages, pos, nil
}

// findPage binary-searches a page index for the largest first_key <= target.
func findPage(idx []pageIndexEntry, target [16]byte) int {
	lo, hi := 0, len(idx)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if bytes.Compare(idx[mid].FirstKey[:], target[:]) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

func scanCKeyPage(page []byte, target [16]byte) (ckeyRecord, bool) {
	pos := 0
	for pos < len(page) {
		if pos >= len(page) {
			break
		}
		ekeyCount := page[pos]
		if ekeyCount == 0 {
			break // sentinel: page padding
		}
		pos++
		if pos+5 > len(page) {
			break
		}
		fileSize := readUint40BE(page[pos : pos+5])
		pos += 5
		if pos+16 > len(page) {
			break
		}
		var ckey [16]byte
		copy(ckey[:], page[pos:pos+16])
		pos += 16
		need := int(ekeyCount) * 16
		if pos+need > len(page) {
			break
		}
		ekeys := make([][16]byte, ekeyCount)
		for i := 0; i < int(ekeyCount); i++ {
			copy(ekeys[i][:], page[pos:pos+16])
			pos += 16
		}
		if ckey == target {
			return ckeyRecord{CKey: ckey, FileSize: fileSize, EKeys: ekeys}, true
		}
	}
	return ckeyRecord{}, false
}

func scanEKeyPage(page []byte, target [16]byte) (ekeyRecord, bool) {
	const stride = 16 + 4 + 5
	for pos := 0; pos+stride <= len(page); pos += stride {
		var ekey [16]byte
		copy(ekey[:], page[pos:pos+16])
		especIndex := binary.BigEndian.Uint32(page[pos+16 : pos+20])
		if isSentinelEKeyRecord(ekey, especIndex) {
			break // sentinel: page padding
		}
		encodedSize := readUint40BE(page[pos+20 : pos+25])
		if ekey == target {
			return ekeyRecord{EKey: ekey, ESpecIndex: especIndex, EncodedSize: encodedSize}, true
		}
	}
	return ekeyRecord{}, false
}

// isSentinelEKeyRecord reports whether an EKey-page record is page padding:
// either the canonical sentinel (espec_index == 0xFFFFFFFF) or zero-fill
// padding (espec_index == 0 with an all-zero key).
func isSentinelEKeyRecord(ekey [16]byte, especIndex uint32) bool {
	if especIndex == especSentinel {
		return true
	}
	if especIndex == 0 && ekey == ([16]byte{}) {
		return true
	}
	return false
}

func readUint40BE(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}

func writeUint40BE(buf []byte, v uint64) {
	buf[0] = byte(v >> 32)
	buf[1] = byte(v >> 24)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 8)
	buf[4] = byte(v)
}

func ckeyHash(ckey [16]byte) uint64 {
	return xxhash.Sum64(ckey[:])
}

// FindEKey returns the first EKey mapped from ckey.
func (t *Table) FindEKey(ckey [16]byte) ([16]byte, bool) {
	eks := t.FindAllEKeys(ckey)
	if len(eks) == 0 {
		return [16]byte{}, false
	}
	return eks[0], true
}

// FindAllEKeys returns every EKey mapped from ckey, in on-disk order.
func (t *Table) FindAllEKeys(ckey [16]byte) [][16]byte {
	if cached, ok := t.cache[ckeyHash(ckey)]; ok {
		return cached
	}
	pageIdx := findPage(t.ckeyPageIdx, ckey)
	var out [][16]byte
	if pageIdx >= 0 {
		if rec, ok := scanCKeyPage(t.ckeyPages[pageIdx], ckey); ok {
			out = rec.EKeys
		}
	}
	t.cache[ckeyHash(ckey)] = out
	return out
}

// FileSize returns the declared decoded size for ckey.
func (t *Table) FileSize(ckey [16]byte) (uint64, bool) {
	pageIdx := findPage(t.ckeyPageIdx, ckey)
	if pageIdx < 0 {
		return 0, false
	}
	rec, ok := scanCKeyPage(t.ckeyPages[pageIdx], ckey)
	if !ok {
		return 0, false
	}
	return rec.FileSize, true
}

// FindESpec returns the ESpec string describing how ekey was encoded.
func (t *Table) FindESpec(ekey [16]byte) (string, bool) {
	pageIdx := findPage(t.ekeyPageIdx, ekey)
	if pageIdx < 0 {
		return "", false
	}
	rec, ok := scanEKeyPage(t.ekeyPages[pageIdx], ekey)
	if !ok {
		return "", false
	}
	if int(rec.ESpecIndex) >= len(t.especStrings) {
		return "", false
	}
	return t.especStrings[rec.ESpecIndex], true
}

// BatchFindEKeys resolves every CKey in ckeys, returning a map from CKey to
// its full EKey list.
func (t *Table) BatchFindEKeys(ckeys [][16]byte) map[[16]byte][][16]byte {
	out := make(map[[16]byte][][16]byte, len(ckeys))
	for _, c := range ckeys {
		out[c] = t.FindAllEKeys(c)
	}
	return out
}

// TrailingESpec returns the encoding table file's own ESpec string.
func (t *Table) TrailingESpec() string { return t.trailingESpec }

// Stats summarizes a table's page layout, for diagnostic output (`ngdp
// inspect encoding`).
type Stats struct {
	CKeyPageCount  uint32
	EKeyPageCount  uint32
	CKeyPageSizeKB uint16
	EKeyPageSizeKB uint16
	ESpecCount     int
}

// Stats returns t's header-level page counts and sizes.
func (t *Table) Stats() Stats {
	return Stats{
		CKeyPageCount:  t.header.CKeyPageCount,
		EKeyPageCount:  t.header.EKeyPageCount,
		CKeyPageSizeKB: t.header.CKeyPageSizeKB,
		EKeyPageSizeKB: t.header.EKeyPageSizeKB,
		ESpecCount:     len(t.especStrings),
	}
}
