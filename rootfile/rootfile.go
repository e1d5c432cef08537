// Package rootfile parses the NGDP Root manifest: the file that groups
// every shipped file's content key by locale/content flags and resolves
// either a normalized path or a FileDataID down to a CKey.
//
// Grounded on the teacher's version-probing style in its multiepoch/CAR
// version detection (reading a handful of leading bytes to decide which of
// several historical wire formats follows) and on compactindexsized's
// binary-search-then-linear-scan discipline for the FileDataID lookup.
package rootfile

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// Version identifies which Root manifest generation was parsed.
type Version int

const (
	V1 Version = iota + 1
	V2
	V3
	V4
)

const noNameHashFlag = 0x02

// Record is one file entry within a block.
type Record struct {
	FileDataID  uint32
	CKey        [16]byte
	NameHash    uint64
	HasNameHash bool
}

// Block groups records sharing a {content_flags, locale_flags} pair.
type Block struct {
	ContentFlags uint64
	LocaleFlags  uint32
	NoNameHash   bool
	Records      []Record
}

// Manifest is a fully parsed Root file.
type Manifest struct {
	Version Version
	Blocks  []Block

	pathIndex map[uint64][]pathHit
}

type pathHit struct {
	block  int
	record int
}

// Parse detects the Root version from the leading bytes and parses the
// full manifest.
func Parse(buf []byte) (*Manifest, error) {
	if len(buf) < 4 {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "root file too short"}
	}

	if !bytes.Equal(buf[:4], []byte("MFST")) && !bytes.Equal(buf[:4], []byte("TSFM")) {
		return parseV1(buf)
	}

	if len(buf) < 12 {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "root header too short"}
	}
	probe1 := binary.LittleEndian.Uint32(buf[4:8])
	probe2 := binary.LittleEndian.Uint32(buf[8:12])
	if probe1 >= 16 && probe1 < 100 && (probe2 == 2 || probe2 == 3 || probe2 == 4) {
		ver := V3
		if probe2 == 4 {
			ver = V4
		}
		return parseV3V4(buf, ver, probe1)
	}
	return parseV2(buf)
}

func parseV1(buf []byte) (*Manifest, error) {
	m := &Manifest{Version: V1}
	pos := 0
	for pos < len(buf) {
		if pos+12 > len(buf) {
			return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "v1 block header truncated"}
		}
		numRecords := binary.BigEndian.Uint32(buf[pos : pos+4])
		contentFlags := uint64(binary.BigEndian.Uint32(buf[pos+4 : pos+8]))
		localeFlags := binary.BigEndian.Uint32(buf[pos+8 : pos+12])
		pos += 12

		block, next, err := parseBlockBody(buf, pos, int(numRecords), contentFlags, localeFlags, false)
		if err != nil {
			return nil, err
		}
		m.Blocks = append(m.Blocks, block)
		pos = next
	}
	m.buildPathIndex()
	return m, nil
}

func parseV2(buf []byte) (*Manifest, error) {
	m := &Manifest{Version: V2}
	if len(buf) < 12 {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "v2 header truncated"}
	}
	// buf[4:8], buf[8:12] are total/named file counts; informational only.
	pos := 12
	var err error
	m.Blocks, pos, err = parseBlocksV2Plus(buf, pos, 17, false)
	if err != nil {
		return nil, err
	}
	m.buildPathIndex()
	return m, nil
}

func parseV3V4(buf []byte, ver Version, headerSize uint32) (*Manifest, error) {
	m := &Manifest{Version: ver}
	if len(buf) < int(headerSize) {
		return nil, &ngdperr.Protocol{Kind: "truncated", Detail: "v3/v4 header shorter than declared header_size"}
	}
	pos := int(headerSize)
	blockHeaderSize := 17
	isV4 := ver == V4
	if isV4 {
		blockHeaderSize = 18
	}
	var err error
	m.Blocks, pos, err = parseBlocksV2Plus(buf, pos, blockHeaderSize, isV4)
	if err != nil {
		return nil, err
	}
	m.buildPathIndex()
	return m, nil
}

func parseBlocksV2Plus(buf []byte, pos, blockHeaderSize int, wide40BitContentFlags bool) ([]Block, int, error) {
	var blocks []Block
	for pos < len(buf) {
		if pos+blockHeaderSize > len(buf) {
			return nil, 0, &ngdperr.Protocol{Kind: "truncated", Detail: "v2+ block header truncated"}
		}
		numRecords := binary.BigEndian.Uint32(buf[pos : pos+4])
		localeFlags := binary.BigEndian.Uint32(buf[pos+4 : pos+8])
		var contentFlags uint64
		cursor := pos + 8
		if wide40BitContentFlags {
			contentFlags = readUint40BE(buf[cursor : cursor+5])
			cursor += 5
		} else {
			contentFlags = uint64(binary.BigEndian.Uint32(buf[cursor : cursor+4]))
			cursor += 4
		}
		unk2 := buf[cursor]
		cursor++
		cursor += 4 // unk3, reserved

		noNameHash := unk2&noNameHashFlag != 0

		block, next, err := parseBlockBody(buf, cursor, int(numRecords), contentFlags, localeFlags, noNameHash)
		if err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, block)
		pos = next
	}
	return blocks, pos, nil
}

func parseBlockBody(buf []byte, pos, numRecords int, contentFlags uint64, localeFlags uint32, noNameHash bool) (Block, int, error) {
	deltaBytes := numRecords * 4
	if pos+deltaBytes > len(buf) {
		return Block{}, 0, &ngdperr.Protocol{Kind: "truncated", Detail: "fileDataID delta array truncated"}
	}
	fileDataIDs := make([]uint32, numRecords)
	var prev int64 = -1
	for i := 0; i < numRecords; i++ {
		delta := binary.BigEndian.Uint32(buf[pos+i*4 : pos+i*4+4])
		if i == 0 {
			fileDataIDs[i] = delta
		} else {
			fileDataIDs[i] = uint32(prev + 1 + int64(delta))
		}
		prev = int64(fileDataIDs[i])
	}
	pos += deltaBytes

	ckeyBytes := numRecords * 16
	if pos+ckeyBytes > len(buf) {
		return Block{}, 0, &ngdperr.Protocol{Kind: "truncated", Detail: "ckey array truncated"}
	}
	records := make([]Record, numRecords)
	for i := 0; i < numRecords; i++ {
		var ck [16]byte
		copy(ck[:], buf[pos+i*16:pos+i*16+16])
		records[i] = Record{FileDataID: fileDataIDs[i], CKey: ck}
	}
	pos += ckeyBytes

	if !noNameHash {
		hashBytes := numRecords * 8
		if pos+hashBytes > len(buf) {
			return Block{}, 0, &ngdperr.Protocol{Kind: "truncated", Detail: "name hash array truncated"}
		}
		for i := 0; i < numRecords; i++ {
			records[i].NameHash = binary.BigEndian.Uint64(buf[pos+i*8 : pos+i*8+8])
			records[i].HasNameHash = true
		}
		pos += hashBytes
	}

	return Block{ContentFlags: contentFlags, LocaleFlags: localeFlags, NoNameHash: noNameHash, Records: records}, pos, nil
}

func readUint40BE(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}

func (m *Manifest) buildPathIndex() {
	m.pathIndex = make(map[uint64][]pathHit)
	for bi, b := range m.Blocks {
		for ri, r := range b.Records {
			if r.HasNameHash {
				m.pathIndex[r.NameHash] = append(m.pathIndex[r.NameHash], pathHit{block: bi, record: ri})
			}
		}
	}
}

// matchesFilter reports whether a block is visible under the caller's
// locale/content filter: localeMask selects blocks sharing at least one
// locale bit (0 means match any locale), and excludeContentMask excludes
// blocks carrying any of those content flags.
func (b Block) matchesFilter(localeMask uint32, excludeContentMask uint64) bool {
	if localeMask != 0 && b.LocaleFlags&localeMask == 0 {
		return false
	}
	if excludeContentMask != 0 && b.ContentFlags&excludeContentMask != 0 {
		return false
	}
	return true
}

// ResolvePath resolves a path to a CKey, filtered by locale/content.
func (m *Manifest) ResolvePath(path string, localeMask uint32, excludeContentMask uint64) ([16]byte, bool) {
	hash := HashPath(path)
	for _, hit := range m.pathIndex[hash] {
		block := m.Blocks[hit.block]
		if block.matchesFilter(localeMask, excludeContentMask) {
			return block.Records[hit.record].CKey, true
		}
	}
	return [16]byte{}, false
}

// ResolveFileDataID resolves a FileDataID to a CKey, filtered by
// locale/content, via binary search within each matching block (file IDs
// within a block are strictly increasing by construction of the delta
// encoding).
func (m *Manifest) ResolveFileDataID(id uint32, localeMask uint32, excludeContentMask uint64) ([16]byte, bool) {
	for _, block := range m.Blocks {
		if !block.matchesFilter(localeMask, excludeContentMask) {
			continue
		}
		recs := block.Records
		i := sort.Search(len(recs), func(i int) bool { return recs[i].FileDataID >= id })
		if i < len(recs) && recs[i].FileDataID == id {
			return recs[i].CKey, true
		}
	}
	return [16]byte{}, false
}
