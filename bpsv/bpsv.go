// Package bpsv implements the Blizzard Pipe-Separated Values format used by
// Ribbit, TACT HTTP, and CDN manifest endpoints: an optional typed header
// line, an optional sequence-number line, and pipe-separated data rows.
//
// Grounded on the teacher's BPSV-shaped manifests (indexmeta's small
// self-describing key/value header) and on the teacher's habit of a single
// forgiving parser plus a matching emitter for round-tripping wire formats.
package bpsv

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// FieldType is the type tag of a BPSV column.
type FieldType int

const (
	// TypeString is an untyped text field.
	TypeString FieldType = iota
	// TypeHex is a fixed-width hex-encoded byte string; Width is in bytes.
	TypeHex
	// TypeDec is a signed integer; Width is informational wire width, not enforced.
	TypeDec
)

// Field describes one column of the schema header.
type Field struct {
	Name  string
	Type  FieldType
	Width int // byte width for HEX, wire-width hint for DEC; unused for STRING
}

// Document is a parsed BPSV document.
type Document struct {
	Fields   []Field
	SeqnLine string // raw sequence-number line, empty if absent
	Seqn     int64
	HasSeqn  bool
	Rows     [][]string // raw field values, row-major, same order as Fields
}

// FieldIndex returns the column index of name, or -1.
func (d *Document) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Value returns the raw string value of field name in row r.
func (d *Document) Value(row int, name string) (string, bool) {
	i := d.FieldIndex(name)
	if i < 0 || row < 0 || row >= len(d.Rows) {
		return "", false
	}
	return d.Rows[row][i], true
}

func typeName(t FieldType) string {
	switch t {
	case TypeHex:
		return "HEX"
	case TypeDec:
		return "DEC"
	default:
		return "STRING"
	}
}

func parseFieldType(s string) (FieldType, error) {
	switch strings.ToUpper(s) {
	case "STRING":
		return TypeString, nil
	case "HEX":
		return TypeHex, nil
	case "DEC":
		return TypeDec, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

// Parse parses a complete BPSV document from text. Both LF and CRLF line
// endings are accepted.
func Parse(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	// Drop a single trailing empty line produced by a final newline.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	doc := &Document{}
	lineNo := 0
	idx := 0

	if idx < len(lines) && looksLikeHeader(lines[idx]) {
		lineNo++
		fields, err := parseHeader(lines[idx], lineNo)
		if err != nil {
			return nil, err
		}
		doc.Fields = fields
		idx++
	}

	if idx < len(lines) && looksLikeSeqn(lines[idx]) {
		lineNo++
		seqn, err := parseSeqn(lines[idx], lineNo)
		if err != nil {
			return nil, err
		}
		doc.SeqnLine = lines[idx]
		doc.Seqn = seqn
		doc.HasSeqn = true
		idx++
	}

	for ; idx < len(lines); idx++ {
		lineNo++
		line := lines[idx]
		if line == "" {
			continue
		}
		row := strings.Split(line, "|")
		if len(doc.Fields) > 0 && len(row) != len(doc.Fields) {
			return nil, &ngdperr.Protocol{
				Kind: "parse_error", Line: lineNo,
				Detail: fmt.Sprintf("row has %d fields, header declares %d", len(row), len(doc.Fields)),
			}
		}
		if err := validateRow(doc.Fields, row, lineNo); err != nil {
			return nil, err
		}
		doc.Rows = append(doc.Rows, row)
	}

	return doc, nil
}

func looksLikeHeader(line string) bool {
	if line == "" {
		return false
	}
	// A header field is `Name!TYPE[:N]`; at least the first column must
	// contain a bang to be considered a header rather than a bare data row.
	first := line
	if i := strings.IndexByte(line, '|'); i >= 0 {
		first = line[:i]
	}
	return strings.Contains(first, "!")
}

func looksLikeSeqn(line string) bool {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "## seqn") {
		return true
	}
	if strings.HasPrefix(t, "##") {
		return true
	}
	return false
}

func parseHeader(line string, lineNo int) ([]Field, error) {
	cols := strings.Split(line, "|")
	fields := make([]Field, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		bang := strings.IndexByte(col, '!')
		if bang < 0 {
			return nil, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: fmt.Sprintf("header field %q missing type", col)}
		}
		name := col[:bang]
		spec := col[bang+1:]
		if name == "" {
			return nil, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: "empty field name"}
		}
		if seen[name] {
			return nil, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: fmt.Sprintf("duplicate field name %q", name)}
		}
		seen[name] = true

		typStr := spec
		width := 0
		if c := strings.IndexByte(spec, ':'); c >= 0 {
			typStr = spec[:c]
			w, err := strconv.Atoi(spec[c+1:])
			if err != nil {
				return nil, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: fmt.Sprintf("bad width in %q", col)}
			}
			width = w
		}
		typ, err := parseFieldType(typStr)
		if err != nil {
			return nil, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: err.Error()}
		}
		fields = append(fields, Field{Name: name, Type: typ, Width: width})
	}
	return fields, nil
}

func parseSeqn(line string, lineNo int) (int64, error) {
	t := strings.TrimSpace(line)
	t = strings.TrimPrefix(t, "##")
	t = strings.TrimSpace(t)
	t = strings.TrimPrefix(t, "seqn")
	t = strings.TrimSpace(t)
	t = strings.TrimPrefix(t, "=")
	t = strings.TrimPrefix(t, ":")
	t = strings.TrimSpace(t)
	if t == "" {
		return 0, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: "empty sequence number"}
	}
	n, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return 0, &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: fmt.Sprintf("bad seqn %q", t)}
	}
	return n, nil
}

func validateRow(fields []Field, row []string, lineNo int) error {
	for i, f := range fields {
		if i >= len(row) {
			return nil // arity mismatch already reported by caller
		}
		v := row[i]
		if v == "" {
			continue // empty fields are valid for every type
		}
		switch f.Type {
		case TypeHex:
			if f.Width > 0 && len(v) != f.Width*2 {
				return &ngdperr.Protocol{
					Kind: "parse_error", Line: lineNo,
					Detail: fmt.Sprintf("field %q: HEX:%d requires %d hex characters, got %d", f.Name, f.Width, f.Width*2, len(v)),
				}
			}
			if !isHex(v) {
				return &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: fmt.Sprintf("field %q: not valid hex: %q", f.Name, v)}
			}
		case TypeDec:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return &ngdperr.Protocol{Kind: "parse_error", Line: lineNo, Detail: fmt.Sprintf("field %q: not a valid integer: %q", f.Name, v)}
			}
		}
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// Emit serializes the document back to BPSV text, canonicalizing line
// endings to LF.
func Emit(d *Document) []byte {
	var b strings.Builder
	w := bufio.NewWriter(&b)

	if len(d.Fields) > 0 {
		for i, f := range d.Fields {
			if i > 0 {
				w.WriteByte('|')
			}
			fmt.Fprintf(w, "%s!%s:%d", f.Name, typeName(f.Type), f.Width)
		}
		w.WriteByte('\n')
	}
	if d.HasSeqn {
		fmt.Fprintf(w, "## seqn = %d\n", d.Seqn)
	}
	for _, row := range d.Rows {
		w.WriteString(strings.Join(row, "|"))
		w.WriteByte('\n')
	}
	w.Flush()
	return []byte(b.String())
}
