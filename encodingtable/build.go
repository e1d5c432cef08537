package encodingtable

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"sort"
)

// CKeyInput is one {ckey, file_size, ekeys[]} record supplied to the builder.
type CKeyInput struct {
	CKey     [16]byte
	FileSize uint64
	EKeys    [][16]byte
}

// EKeyInput is one {ekey, espec, encoded_size} record supplied to the builder.
type EKeyInput struct {
	EKey        [16]byte
	ESpec       string
	EncodedSize uint64
}

// BuildOptions controls page sizing for a new table.
type BuildOptions struct {
	CKeyPageSizeKB uint16
	EKeyPageSizeKB uint16
}

// Build constructs a complete encoding table file (minus the trailing
// self-describing ESpec, which the caller appends after BLTE-encoding this
// output and computing its own size — see Parse's totalSize parameter).
//
// Inputs are sorted, partitioned into pages of the requested size, ESpec
// strings are interned into a string table, and page indices/checksums are
// computed over the final page bytes.
func Build(ckeys []CKeyInput, ekeys []EKeyInput, opts BuildOptions) ([]byte, error) {
	sort.Slice(ckeys, func(i, j int) bool { return bytes.Compare(ckeys[i].CKey[:], ckeys[j].CKey[:]) < 0 })
	sort.Slice(ekeys, func(i, j int) bool { return bytes.Compare(ekeys[i].EKey[:], ekeys[j].EKey[:]) < 0 })

	especTable, especIndex := internESpecs(ekeys)

	ckeyPages, ckeyIdx := buildCKeyPages(ckeys, int(opts.CKeyPageSizeKB)*1024)
	ekeyPages, ekeyIdx := buildEKeyPages(ekeys, especIndex, int(opts.EKeyPageSizeKB)*1024)

	h := &Header{
		Version:        1,
		CKeySize:       16,
		EKeySize:       16,
		CKeyPageSizeKB: opts.CKeyPageSizeKB,
		EKeyPageSizeKB: opts.EKeyPageSizeKB,
		CKeyPageCount:  uint32(len(ckeyPages)),
		EKeyPageCount:  uint32(len(ekeyPages)),
		Flags:          0,
		ESpecTableSize: uint32(len(especTable)),
	}

	var out bytes.Buffer
	out.Write(h.bytes())
	out.Write(especTable)
	writePageIndex(&out, ckeyIdx)
	for _, p := range ckeyPages {
		out.Write(p)
	}
	writePageIndex(&out, ekeyIdx)
	for _, p := range ekeyPages {
		out.Write(p)
	}
	return out.Bytes(), nil
}

// internESpecs builds the null-separated ESpec string table and a map from
// ESpec string to its index within it, preserving first-seen order.
func internESpecs(ekeys []EKeyInput) ([]byte, map[string]uint32) {
	index := make(map[string]uint32)
	var buf bytes.Buffer
	for _, e := range ekeys {
		if _, ok := index[e.ESpec]; ok {
			continue
		}
		index[e.ESpec] = uint32(len(index))
		buf.WriteString(e.ESpec)
		buf.WriteByte(0)
	}
	return buf.Bytes(), index
}

func buildCKeyPages(ckeys []CKeyInput, pageSize int) ([][]byte, []pageIndexEntry) {
	var pages [][]byte
	var idx []pageIndexEntry
	var cur bytes.Buffer
	var firstKey [16]byte
	haveFirst := false

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		page := make([]byte, pageSize)
		copy(page, cur.Bytes())
		sum := md5.Sum(page)
		pages = append(pages, page)
		idx = append(idx, pageIndexEntry{FirstKey: firstKey, PageMD5: sum})
		cur.Reset()
		haveFirst = false
	}

	for _, c := range ckeys {
		recLen := 1 + 5 + 16 + 16*len(c.EKeys)
		if cur.Len()+recLen > pageSize {
			flush()
		}
		if !haveFirst {
			firstKey = c.CKey
			haveFirst = true
		}
		cur.WriteByte(byte(len(c.EKeys)))
		var sizeBuf [5]byte
		writeUint40BE(sizeBuf[:], c.FileSize)
		cur.Write(sizeBuf[:])
		cur.Write(c.CKey[:])
		for _, ek := range c.EKeys {
			cur.Write(ek[:])
		}
	}
	flush()
	return pages, idx
}

func buildEKeyPages(ekeys []EKeyInput, especIndex map[string]uint32, pageSize int) ([][]byte, []pageIndexEntry) {
	var pages [][]byte
	var idx []pageIndexEntry
	var cur bytes.Buffer
	var firstKey [16]byte
	haveFirst := false
	const stride = 16 + 4 + 5

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		page := make([]byte, pageSize)
		copy(page, cur.Bytes())
		// The remainder of page is already zero, which satisfies the
		// all-zero-key zero-fill sentinel rule without writing anything.
		sum := md5.Sum(page)
		pages = append(pages, page)
		idx = append(idx, pageIndexEntry{FirstKey: firstKey, PageMD5: sum})
		cur.Reset()
		haveFirst = false
	}

	for _, e := range ekeys {
		if cur.Len()+stride > pageSize {
			flush()
		}
		if !haveFirst {
			firstKey = e.EKey
			haveFirst = true
		}
		cur.Write(e.EKey[:])
		var especBuf [4]byte
		binary.BigEndian.PutUint32(especBuf[:], especIndex[e.ESpec])
		cur.Write(especBuf[:])
		var sizeBuf [5]byte
		writeUint40BE(sizeBuf[:], e.EncodedSize)
		cur.Write(sizeBuf[:])
	}
	flush()
	return pages, idx
}

func writePageIndex(out *bytes.Buffer, idx []pageIndexEntry) {
	for _, e := range idx {
		out.Write(e.FirstKey[:])
		out.Write(e.PageMD5[:])
	}
}
