// Package buildconfig parses the CDN config family of files (build config,
// CDN config, and patch config), a small text format distinct from BPSV:
// one `key = value` pair per line, where a value may itself be a
// space-separated list (most often a CKey/EKey pair — "plain, size-guess"
// hashes — per spec.md §8 scenario 2's `root`/`install`/`encoding`/
// `download`/`size` fields).
//
// Grounded on bpsv's "validate shape before trusting rows" discipline,
// adapted to this format's much looser grammar (no header line, no typed
// columns, arbitrary repeated whitespace around `=`).
package buildconfig

import (
	"bufio"
	"strings"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// Document is a parsed build/CDN/patch config file: an ordered list of
// keys (insertion order preserved for Emit round-tripping) each mapped to
// its raw space-separated value fields.
type Document struct {
	order  []string
	values map[string][]string
}

// Values returns the space-separated fields of key, or nil if absent.
// Per spec.md §9's open question, a key with no value after `=`
// (`key =`) parses to an empty, non-nil slice, not "absent" — Has
// distinguishes the two.
func (d *Document) Values(key string) []string {
	return d.values[key]
}

// Value returns the first field of key, or "" if key is absent or has no
// fields (both the "key absent" and "key =" cases collapse to "" here;
// callers that need to distinguish them should use Has/Values).
func (d *Document) Value(key string) string {
	v := d.values[key]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Has reports whether key appeared in the document at all (including as
// an empty value).
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Keys returns every key in the document, in file order.
func (d *Document) Keys() []string {
	return append([]string(nil), d.order...)
}

// Parse reads a build/CDN/patch config document. Blank lines and lines
// starting with "#" are ignored. Every other line must contain exactly one
// "=" separator; CR is stripped so both LF and CRLF inputs parse.
func Parse(data []byte) (*Document, error) {
	doc := &Document{values: make(map[string][]string)}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, &ngdperr.Protocol{Kind: "bad_buildconfig", Detail: "missing '=' separator", Line: lineNo}
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			return nil, &ngdperr.Protocol{Kind: "bad_buildconfig", Detail: "empty key", Line: lineNo}
		}
		rest := strings.TrimSpace(line[idx+1:])
		var fields []string
		if rest != "" {
			fields = strings.Fields(rest)
		} else {
			fields = []string{}
		}
		if _, exists := doc.values[key]; !exists {
			doc.order = append(doc.order, key)
		}
		doc.values[key] = fields
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Emit serializes doc back to the "key = value1 value2" text form, in the
// original key order.
func Emit(doc *Document) []byte {
	var b strings.Builder
	for _, k := range doc.order {
		b.WriteString(k)
		b.WriteString(" =")
		for _, f := range doc.values[k] {
			b.WriteByte(' ')
			b.WriteString(f)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// BuildConfig is the typed view of the fields spec.md §8 scenario 2 names:
// root/install/download/size each carry a CKey and (when the file has a
// two-hash form) an EKey, plus the human build-name string.
type BuildConfig struct {
	Root        string
	Install     []string
	Download    []string
	Size        []string
	Encoding    []string
	BuildName   string
	BuildUID    string
	BuildPrefix string
}

// DecodeBuildConfig extracts the well-known build-config fields from doc.
// Fields absent from doc decode to their zero value; this is intentionally
// permissive since build configs add new keys over time.
func DecodeBuildConfig(doc *Document) BuildConfig {
	return BuildConfig{
		Root:        doc.Value("root"),
		Install:     doc.Values("install"),
		Download:    doc.Values("download"),
		Size:        doc.Values("size"),
		Encoding:    doc.Values("encoding"),
		BuildName:   doc.Value("build-name"),
		BuildUID:    doc.Value("build-uid"),
		BuildPrefix: doc.Value("build-product"),
	}
}

// CDNConfig is the typed view of a CDN config file: the archive list and
// (if present) the file-index/patch-file-index/patch-archive fields.
type CDNConfig struct {
	Archives        []string
	ArchiveGroup    string
	PatchArchives   []string
	PatchArchiveGrp string
	FileIndex       string
	PatchFileIndex  string
}

// DecodeCDNConfig extracts the well-known cdn-config fields from doc.
func DecodeCDNConfig(doc *Document) CDNConfig {
	return CDNConfig{
		Archives:        doc.Values("archives"),
		ArchiveGroup:    doc.Value("archives-index"),
		PatchArchives:   doc.Values("patch-archives"),
		PatchArchiveGrp: doc.Value("patch-archives-index"),
		FileIndex:       doc.Value("file-index"),
		PatchFileIndex:  doc.Value("patch-file-index"),
	}
}
