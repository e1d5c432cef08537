package cdnindex

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"sort"
)

// BuildEntry is one {ekey, encoded_size, archive_offset} record supplied to
// the plain (single-archive) builder.
type BuildEntry struct {
	EKey        []byte
	EncodedSize uint32
	Offset      uint32
}

// BuildOptions controls the geometry of a synthesized index.
type BuildOptions struct {
	EKeyLength uint8
	PageSizeKB uint8 // conventionally 4
}

// Build constructs a plain (OffsetBytes=4) CDN archive index from a set of
// entries, sorting them by EKey and laying out entry chunks, TOC, and
// footer per spec.md §3.
func Build(entries []BuildEntry, opts BuildOptions) []byte {
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].EKey, entries[j].EKey) < 0 })

	f := Footer{
		Version:         1,
		PageSizeKB:      opts.PageSizeKB,
		OffsetBytes:     4,
		SizeBytes:       4,
		EKeyLength:      opts.EKeyLength,
		FooterHashBytes: 8,
		ElementCount:    uint32(len(entries)),
	}
	return assemble(f, entries, nil)
}

// GroupEntry is one entry fed into archive-group synthesis: the original
// per-archive offset plus which source archive (by its CDN hash name) it
// came from.
type GroupEntry struct {
	EKey          []byte
	EncodedSize   uint32
	SourceOffset  uint32
	SourceArchive string
}

// BuildGroup merges entries from many individual archive indices into one
// OffsetBytes=6 archive-group index. Per spec.md §4.8/§9, the 16-bit slot
// stored alongside each offset is a deterministic hash of the EKey, not the
// entry's real source archive; the returned slot table records which real
// archive each slot was last assigned to, for the caller to persist
// separately. Collisions (two different source archives hashing to the
// same slot) are recorded in Collisions and resolved last-write-wins,
// matching the real system's slot-cardinality assumption that collisions
// are rare enough not to matter (§9 Archive-group cardinality).
func BuildGroup(entries []GroupEntry, opts BuildOptions) (data []byte, slotToArchive map[uint16]string, collisions int) {
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].EKey, entries[j].EKey) < 0 })

	slotToArchive = make(map[uint16]string)
	for _, e := range entries {
		slot := AssignSlot(e.EKey)
		if prev, ok := slotToArchive[slot]; ok && prev != e.SourceArchive {
			collisions++
		}
		slotToArchive[slot] = e.SourceArchive
	}

	f := Footer{
		Version:         1,
		PageSizeKB:      opts.PageSizeKB,
		OffsetBytes:     6,
		SizeBytes:       4,
		EKeyLength:      opts.EKeyLength,
		FooterHashBytes: 8,
		ElementCount:    uint32(len(entries)),
	}
	// assembleGroupEntries needs the slot alongside the offset, so build the raw
	// entries directly rather than reusing the 4-byte-offset assemble path.
	data = assembleGroupEntries(f, entries, slotToArchive)
	return data, slotToArchive, collisions
}

// AssignSlot computes the archive-group slot for an EKey: the first four
// bytes of md5(ekey), interpreted as a big-endian uint32, mod 65536. This
// is the one deterministic input to archive-group assignment spec.md §3/§8
// requires: identical EKey inputs must always produce identical slots.
func AssignSlot(ekey []byte) uint16 {
	sum := md5.Sum(ekey)
	v := binary.BigEndian.Uint32(sum[:4])
	return uint16(v % 65536)
}

func assemble(f Footer, entries []BuildEntry, _ map[uint16]string) []byte {
	entrySize := f.entrySize()
	perChunk := f.pageBytes() / entrySize
	numChunks := (len(entries) + perChunk - 1) / perChunk

	var body bytes.Buffer
	var toc bytes.Buffer
	for c := 0; c < numChunks; c++ {
		start := c * perChunk
		end := start + perChunk
		if end > len(entries) {
			end = len(entries)
		}
		chunk := make([]byte, f.pageBytes())
		pos := 0
		for _, e := range entries[start:end] {
			copy(chunk[pos:], e.EKey)
			binary.BigEndian.PutUint32(chunk[pos+int(f.EKeyLength):], e.EncodedSize)
			binary.BigEndian.PutUint32(chunk[pos+int(f.EKeyLength)+4:], e.Offset)
			pos += entrySize
		}
		body.Write(chunk)

		last := entries[end-1]
		toc.Write(last.EKey)
		sum := md5.Sum(chunk)
		toc.Write(sum[:])
	}

	tocHash := md5.Sum(toc.Bytes())
	copy(f.TOCHash[:], tocHash[:8])

	var out bytes.Buffer
	out.Write(body.Bytes())
	out.Write(toc.Bytes())

	footer := footerBytes(f)
	fh := f.footerHash(append(make([]byte, 0, footerSize), footer...))
	copy(footer[20:28], fh)
	out.Write(footer)
	return out.Bytes()
}

func assembleGroupEntries(f Footer, entries []GroupEntry, slots map[uint16]string) []byte {
	entrySize := f.entrySize()
	perChunk := f.pageBytes() / entrySize
	numChunks := (len(entries) + perChunk - 1) / perChunk

	var body bytes.Buffer
	var toc bytes.Buffer
	for c := 0; c < numChunks; c++ {
		start := c * perChunk
		end := start + perChunk
		if end > len(entries) {
			end = len(entries)
		}
		chunk := make([]byte, f.pageBytes())
		pos := 0
		for _, e := range entries[start:end] {
			slot := AssignSlot(e.EKey)
			copy(chunk[pos:], e.EKey)
			binary.BigEndian.PutUint32(chunk[pos+int(f.EKeyLength):], e.EncodedSize)
			binary.BigEndian.PutUint16(chunk[pos+int(f.EKeyLength)+4:], slot)
			binary.BigEndian.PutUint32(chunk[pos+int(f.EKeyLength)+6:], e.SourceOffset)
			pos += entrySize
		}
		body.Write(chunk)

		last := entries[end-1]
		toc.Write(last.EKey)
		sum := md5.Sum(chunk)
		toc.Write(sum[:])
	}

	tocHash := md5.Sum(toc.Bytes())
	copy(f.TOCHash[:], tocHash[:8])

	var out bytes.Buffer
	out.Write(body.Bytes())
	out.Write(toc.Bytes())

	footer := footerBytes(f)
	fh := f.footerHash(append(make([]byte, 0, footerSize), footer...))
	copy(footer[20:28], fh)
	out.Write(footer)
	return out.Bytes()
}

func footerBytes(f Footer) []byte {
	b := make([]byte, footerSize)
	copy(b[0:8], f.TOCHash[:])
	b[8] = f.Version
	b[11] = f.PageSizeKB
	b[12] = f.OffsetBytes
	b[13] = f.SizeBytes
	b[14] = f.EKeyLength
	b[15] = f.FooterHashBytes
	binary.LittleEndian.PutUint32(b[16:20], f.ElementCount)
	return b
}
