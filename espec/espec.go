// Package espec implements the Encoding Specification grammar embedded in
// the TACT encoding table: a tiny recursive-descent language describing how
// a file was compressed and/or encrypted.
//
// Grammar (see spec.md §3, §4.2):
//
//	spec    := "n" | deflate | encrypt | block | bcpack | gdeflate
//	deflate := "z" [":" "{" level ["," variant] "}"]
//	encrypt := "e" ":" "{" keyname "," iv "," inner "}"
//	block   := "b" ":" "{" part ("," part)* "}"
//	part    := size ["*" count] "=" inner | "*" "=" inner
//	bcpack  := "c"
//	gdeflate := "g"
//	size    := integer [ "K" | "M" ]
//
// Grounded on the teacher's small recursive-descent parsers
// (indexmeta key/value grammar) and the habit of keeping tokenizer and
// parser as separate, narrowly-scoped passes.
package espec

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the top-level operation of a Node.
type Kind int

const (
	KindNone Kind = iota
	KindDeflate
	KindEncrypt
	KindBlock
	KindBCPack
	KindGDeflate
)

// Node is one node of the parsed ESpec tree.
type Node struct {
	Kind Kind

	// Deflate
	Level   int
	Variant int
	HasArgs bool

	// Encrypt
	KeyName string
	IV      string
	Inner   *Node

	// Block
	Parts []BlockPart
}

// BlockPart is one `size[*count]=inner` partition entry of a block spec.
// Variable is true when the size token was "*" (covers the remainder).
type BlockPart struct {
	Size     int64
	SizeUnit byte // 0, 'K', or 'M' — preserves the original literal's suffix for round-tripping
	Count    int  // 0 means unspecified/single
	Variable bool
	Inner    *Node
}

// Parse parses an ESpec string into a Node tree.
func Parse(s string) (*Node, error) {
	p := &parser{s: s}
	n, err := p.parseSpec()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("espec: trailing garbage at %d in %q", p.pos, s)
	}
	return n, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) expect(b byte) error {
	if p.peek() != b {
		return fmt.Errorf("espec: expected %q at %d in %q", b, p.pos, p.s)
	}
	p.pos++
	return nil
}

func (p *parser) parseSpec() (*Node, error) {
	p.skipSpace()
	switch p.peek() {
	case 'n':
		p.pos++
		return &Node{Kind: KindNone}, nil
	case 'z':
		return p.parseDeflate()
	case 'e':
		return p.parseEncrypt()
	case 'b':
		return p.parseBlock()
	case 'c':
		p.pos++
		return &Node{Kind: KindBCPack}, nil
	case 'g':
		p.pos++
		return &Node{Kind: KindGDeflate}, nil
	default:
		return nil, fmt.Errorf("espec: unknown token %q at %d in %q", p.peek(), p.pos, p.s)
	}
}

func (p *parser) parseDeflate() (*Node, error) {
	if err := p.expect('z'); err != nil {
		return nil, err
	}
	n := &Node{Kind: KindDeflate, Level: 9}
	if p.peek() == ':' {
		p.pos++
		if err := p.expect('{'); err != nil {
			return nil, err
		}
		n.HasArgs = true
		level, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		n.Level = int(level)
		if p.peek() == ',' {
			p.pos++
			v, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			n.Variant = int(v)
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (p *parser) parseEncrypt() (*Node, error) {
	if err := p.expect('e'); err != nil {
		return nil, err
	}
	if err := p.expect(':'); err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	keyName, err := p.parseUntil(',')
	if err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	iv, err := p.parseUntil(',')
	if err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	inner, err := p.parseSpec()
	if err != nil {
		return nil, err
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return &Node{Kind: KindEncrypt, KeyName: keyName, IV: iv, Inner: inner}, nil
}

func (p *parser) parseBlock() (*Node, error) {
	if err := p.expect('b'); err != nil {
		return nil, err
	}
	if err := p.expect(':'); err != nil {
		return nil, err
	}
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	n := &Node{Kind: KindBlock}
	for {
		part, err := p.parseBlockPart()
		if err != nil {
			return nil, err
		}
		n.Parts = append(n.Parts, part)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseBlockPart() (BlockPart, error) {
	var part BlockPart
	if p.peek() == '*' {
		p.pos++
		part.Variable = true
	} else {
		size, unit, err := p.parseSize()
		if err != nil {
			return part, err
		}
		part.Size = size
		part.SizeUnit = unit
		if p.peek() == '*' {
			p.pos++
			count, err := p.parseInt()
			if err != nil {
				return part, err
			}
			part.Count = int(count)
		}
	}
	if err := p.expect('='); err != nil {
		return part, err
	}
	inner, err := p.parseSpec()
	if err != nil {
		return part, err
	}
	part.Inner = inner
	return part, nil
}

func (p *parser) parseInt() (int64, error) {
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("espec: expected integer at %d in %q", start, p.s)
	}
	return strconv.ParseInt(p.s[start:p.pos], 10, 64)
}

// parseSize parses an integer literal optionally suffixed by K (x1024) or
// M (x1024^2), returning both the resolved byte count and the raw suffix so
// the original literal can be reproduced verbatim on Serialize.
func (p *parser) parseSize() (int64, byte, error) {
	n, err := p.parseInt()
	if err != nil {
		return 0, 0, err
	}
	switch p.peek() {
	case 'K':
		p.pos++
		return n * 1024, 'K', nil
	case 'M':
		p.pos++
		return n * 1024 * 1024, 'M', nil
	}
	return n, 0, nil
}

func (p *parser) parseUntil(stop byte) (string, error) {
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != stop && p.s[p.pos] != '}' {
		p.pos++
	}
	if start == p.pos {
		return "", fmt.Errorf("espec: empty token at %d in %q", start, p.s)
	}
	return p.s[start:p.pos], nil
}

// Serialize renders a Node tree back to its canonical ESpec string. For
// every spec observed in production, Serialize(Parse(s)) == s.
func Serialize(n *Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

func writeNode(b *strings.Builder, n *Node) {
	switch n.Kind {
	case KindNone:
		b.WriteByte('n')
	case KindDeflate:
		b.WriteByte('z')
		if n.HasArgs {
			fmt.Fprintf(b, ":{%d", n.Level)
			if n.Variant != 0 {
				fmt.Fprintf(b, ",%d", n.Variant)
			}
			b.WriteByte('}')
		}
	case KindEncrypt:
		fmt.Fprintf(b, "e:{%s,%s,", n.KeyName, n.IV)
		writeNode(b, n.Inner)
		b.WriteByte('}')
	case KindBlock:
		b.WriteString("b:{")
		for i, part := range n.Parts {
			if i > 0 {
				b.WriteByte(',')
			}
			writeBlockPart(b, part)
		}
		b.WriteByte('}')
	case KindBCPack:
		b.WriteByte('c')
	case KindGDeflate:
		b.WriteByte('g')
	}
}

func writeBlockPart(b *strings.Builder, part BlockPart) {
	if part.Variable {
		b.WriteByte('*')
	} else {
		writeSize(b, part.Size, part.SizeUnit)
		if part.Count > 0 {
			fmt.Fprintf(b, "*%d", part.Count)
		}
	}
	b.WriteByte('=')
	writeNode(b, part.Inner)
}

func writeSize(b *strings.Builder, size int64, unit byte) {
	switch unit {
	case 'K':
		fmt.Fprintf(b, "%dK", size/1024)
	case 'M':
		fmt.Fprintf(b, "%dM", size/(1024*1024))
	default:
		fmt.Fprintf(b, "%d", size)
	}
}
