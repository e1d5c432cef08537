package tvfs

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
)

// FileSpec describes one file to place in a built TVFS manifest: its path,
// its content spans, and the CFT record those spans point at.
type FileSpec struct {
	Path  string
	Spans []Span
	CFT   CFTEntry
}

// BuildOptions controls optional CFT fields; the resulting header Flags
// are derived from which fields the caller populates. ESTStrings, if
// non-empty, becomes the EST table; CFTEntry.ESTIndex values then index
// into it.
type BuildOptions struct {
	EKeySize     uint8
	PatchKeySize uint8
	ESTStrings   []string
}

type trieNode struct {
	children  map[string]*trieNode
	isLeaf    bool
	vfsOffset uint32
}

func newTrieNode() *trieNode { return &trieNode{children: map[string]*trieNode{}} }

func (n *trieNode) insert(segments []string, vfsOffset uint32) {
	if len(segments) == 1 {
		leaf := newTrieNode()
		leaf.isLeaf = true
		leaf.vfsOffset = vfsOffset
		n.children[segments[0]] = leaf
		return
	}
	child, ok := n.children[segments[0]]
	if !ok {
		child = newTrieNode()
		n.children[segments[0]] = child
	}
	child.insert(segments[1:], vfsOffset)
}

func (n *trieNode) sortedNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nodeSize returns the byte size of n's own serialized list (count byte
// plus one {prefix, 0xFF, 4-byte value} entry per immediate child); this
// does not depend on where any folder child's own sublist ends up, since
// every NodeValue is a fixed 4 bytes regardless of what it points at.
func nodeSize(n *trieNode) int {
	size := 1
	for name := range n.children {
		size += len(name) + 1 + 4
	}
	return size
}

// serializeNode renders n's own node list, recursively serializing any
// folder child's sublist into childrenBuf first so its absolute path-table
// offset (rootLen + its start position in childrenBuf) is known by the
// time n's own entry for that child is written.
func serializeNode(n *trieNode, rootLen uint32, childrenBuf *bytes.Buffer) []byte {
	var buf bytes.Buffer
	names := n.sortedNames()
	buf.WriteByte(byte(len(names)))
	for _, name := range names {
		child := n.children[name]
		buf.WriteString(name)
		buf.WriteByte(0xFF)
		var v [4]byte
		if child.isLeaf {
			binary.BigEndian.PutUint32(v[:], child.vfsOffset)
		} else {
			childBytes := serializeNode(child, rootLen, childrenBuf)
			childStart := uint32(childrenBuf.Len())
			childrenBuf.Write(childBytes)
			binary.BigEndian.PutUint32(v[:], folderBit|(rootLen+childStart))
		}
		buf.Write(v[:])
	}
	return buf.Bytes()
}

func buildPathTable(files []FileSpec, vfsOffsets []uint32) []byte {
	root := newTrieNode()
	for i, f := range files {
		segs := strings.Split(strings.TrimPrefix(f.Path, "/"), "/")
		root.insert(segs, vfsOffsets[i])
	}
	rootLen := uint32(nodeSize(root))
	var childrenBuf bytes.Buffer
	rootBytes := serializeNode(root, rootLen, &childrenBuf)
	return append(rootBytes, childrenBuf.Bytes()...)
}

// Build assembles a complete TVFS manifest buffer from a flat file list.
// CKey/EST/patch CFT fields are included in the header Flags whenever any
// FileSpec populates them; callers should populate them uniformly across
// all entries.
func Build(files []FileSpec, opts BuildOptions) []byte {
	if opts.EKeySize == 0 {
		opts.EKeySize = 9
	}
	if opts.PatchKeySize == 0 {
		opts.PatchKeySize = 9
	}

	var flags uint32
	for _, f := range files {
		if f.CFT.CKey != nil {
			flags |= FlagHasCKey
		}
		if f.CFT.HasPatch {
			flags |= FlagHasPatch
		}
	}
	if len(opts.ESTStrings) > 0 {
		flags |= FlagHasEST
	}
	estIndexWidth := widthFor(uint32(len(opts.ESTStrings)))

	var cftTable bytes.Buffer
	cftOffsets := make([]uint32, len(files))
	for i, f := range files {
		cftOffsets[i] = uint32(cftTable.Len())
		cftTable.Write(f.CFT.EKey)
		var sizeBuf [4]byte
		binary.BigEndian.PutUint32(sizeBuf[:], f.CFT.EncodedSize)
		cftTable.Write(sizeBuf[:])
		if flags&FlagHasCKey != 0 {
			cftTable.Write(f.CFT.CKey)
		}
		if flags&FlagHasEST != 0 {
			idxBuf := make([]byte, estIndexWidth)
			putWidth(idxBuf, estIndexWidth, f.CFT.ESTIndex)
			cftTable.Write(idxBuf)
		}
		if flags&FlagHasPatch != 0 {
			var pBuf [4]byte
			binary.BigEndian.PutUint32(pBuf[:], f.CFT.PatchOffset)
			cftTable.Write(pBuf[:])
		}
	}

	cftOffsetWidth := widthFor(uint32(cftTable.Len()))

	var vfsTable bytes.Buffer
	vfsOffsets := make([]uint32, len(files))
	for i, f := range files {
		vfsOffsets[i] = uint32(vfsTable.Len())
		vfsTable.WriteByte(byte(len(f.Spans)))
		for _, sp := range f.Spans {
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], sp.FileOffset)
			vfsTable.Write(b[:])
			binary.BigEndian.PutUint32(b[:], sp.SpanLength)
			vfsTable.Write(b[:])
			cb := make([]byte, cftOffsetWidth)
			putWidth(cb, cftOffsetWidth, cftOffsets[i])
			vfsTable.Write(cb)
		}
	}

	pathTable := buildPathTable(files, vfsOffsets)

	h := Header{
		FormatVersion: 1,
		EKeySize:      opts.EKeySize,
		PatchKeySize:  opts.PatchKeySize,
		Flags:         flags,
	}
	h.PathTableSize = uint32(len(pathTable))
	h.VFSTableSize = uint32(vfsTable.Len())
	h.CFTTableSize = uint32(cftTable.Len())

	headerSize := baseHeaderSize
	var estTable bytes.Buffer
	if flags&FlagHasEST != 0 {
		headerSize += 8
		for _, s := range opts.ESTStrings {
			estTable.WriteString(s)
			estTable.WriteByte(0)
		}
		h.ESTTableSize = uint32(estTable.Len())
	}

	h.PathTableOff = uint32(headerSize)
	h.VFSTableOff = h.PathTableOff + h.PathTableSize
	h.CFTTableOff = h.VFSTableOff + h.VFSTableSize
	if flags&FlagHasEST != 0 {
		h.ESTTableOff = h.CFTTableOff + h.CFTTableSize
	}

	out := append([]byte(nil), h.bytes()...)
	out = append(out, pathTable...)
	out = append(out, vfsTable.Bytes()...)
	out = append(out, cftTable.Bytes()...)
	out = append(out, estTable.Bytes()...)
	return out
}
