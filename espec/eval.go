package espec

import "fmt"

// Layout describes the decoded byte ranges an ESpec tree implies, walked
// against a known total decoded size. Used by auditing tools (CLI `inspect`)
// to sanity-check an encoding table's ESpec against an actual BLTE chunk
// table without re-decoding the file.
type Layout struct {
	Segments []Segment
}

// Segment is one decoded byte range produced by a leaf or block partition
// of an ESpec tree.
type Segment struct {
	Offset int64
	Size   int64
	Mode   byte // 'n','z','e','c','g' — the leaf operation covering this range
}

// Evaluate walks the tree against a known total decoded size, producing the
// expected segment layout. A top-level leaf takes totalSize as its size; a
// block's "*" (variable) part takes what totalSize leaves after the fixed
// parts. A block with no "*" part ignores totalSize.
func Evaluate(n *Node, totalSize int64) (*Layout, error) {
	l := &Layout{}
	_, err := evalNode(n, 0, totalSize, l)
	return l, err
}

func evalNode(n *Node, offset, remaining int64, l *Layout) (int64, error) {
	switch n.Kind {
	case KindNone:
		l.Segments = append(l.Segments, Segment{Offset: offset, Size: remaining, Mode: 'n'})
		return remaining, nil
	case KindDeflate:
		l.Segments = append(l.Segments, Segment{Offset: offset, Size: remaining, Mode: 'z'})
		return remaining, nil
	case KindBCPack:
		l.Segments = append(l.Segments, Segment{Offset: offset, Size: remaining, Mode: 'c'})
		return remaining, nil
	case KindGDeflate:
		l.Segments = append(l.Segments, Segment{Offset: offset, Size: remaining, Mode: 'g'})
		return remaining, nil
	case KindEncrypt:
		return evalNode(n.Inner, offset, remaining, l)
	case KindBlock:
		return evalBlock(n, offset, remaining, l)
	default:
		return 0, fmt.Errorf("espec: cannot evaluate unknown node kind %d", n.Kind)
	}
}

func evalBlock(n *Node, offset, totalRemaining int64, l *Layout) (int64, error) {
	var fixed int64
	for _, part := range n.Parts {
		if part.Variable {
			continue
		}
		count := part.Count
		if count == 0 {
			count = 1
		}
		fixed += part.Size * int64(count)
	}
	var consumed int64
	pos := offset
	for _, part := range n.Parts {
		if part.Variable {
			remainder := totalRemaining - fixed
			if remainder < 0 {
				return 0, fmt.Errorf("espec: block partition overruns total size")
			}
			n, err := evalNode(part.Inner, pos, remainder, l)
			if err != nil {
				return 0, err
			}
			pos += n
			consumed += n
			continue
		}
		count := part.Count
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			n, err := evalNode(part.Inner, pos, part.Size, l)
			if err != nil {
				return 0, err
			}
			pos += n
			consumed += n
		}
	}
	return consumed, nil
}
