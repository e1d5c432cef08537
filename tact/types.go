package tact

import (
	"strconv"

	"github.com/wowemulation-dev/ngdp/bpsv"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// VersionEntry is one row of the `versions` (and `bgdl`) schema: a
// region's active build per spec.md's worked example (§5, "Region|
// BuildConfig|CDNConfig|KeyRing|BuildId|VersionsName|ProductConfig").
type VersionEntry struct {
	Region        string
	BuildConfig   string
	CDNConfig     string
	KeyRing       string
	BuildID       uint32
	VersionsName  string
	ProductConfig string
}

// CDNEntry is one row of the `cdns` schema: a region's set of CDN
// mirrors and the path prefix they serve under.
type CDNEntry struct {
	Name       string
	Path       string
	Hosts      string
	Servers    string
	ConfigPath string
}

// SummaryEntry is one row of the `summary` schema: a product and its
// current sequence number, used to detect when a cached manifest has
// gone stale without re-fetching it.
type SummaryEntry struct {
	Product string
	Seqn    uint32
	Flags   string
}

// ProductEntry is one row of the `products` schema, a Ribbit/TACT
// catalog listing of installable products (distinct from `summary`,
// which only tracks sequence numbers).
type ProductEntry struct {
	Product string
	Seqn    uint32
	Flags   string
}

// column reads field from row, returning "" if the document has no such
// column at all (some regions omit optional columns like KeyRing).
func column(doc *bpsv.Document, row int, field string) string {
	v, _ := doc.Value(row, field)
	return v
}

func parseUint32(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, &ngdperr.Protocol{Kind: "bpsv_field", Detail: "not a DEC value: " + s}
	}
	return uint32(v), nil
}

// DecodeVersions decodes a `versions`-schema document into typed rows.
func DecodeVersions(doc *bpsv.Document) ([]VersionEntry, error) {
	out := make([]VersionEntry, 0, len(doc.Rows))
	for i := range doc.Rows {
		buildID, err := parseUint32(column(doc, i, "BuildId"))
		if err != nil {
			return nil, err
		}
		out = append(out, VersionEntry{
			Region:        column(doc, i, "Region"),
			BuildConfig:   column(doc, i, "BuildConfig"),
			CDNConfig:     column(doc, i, "CDNConfig"),
			KeyRing:       column(doc, i, "KeyRing"),
			BuildID:       buildID,
			VersionsName:  column(doc, i, "VersionsName"),
			ProductConfig: column(doc, i, "ProductConfig"),
		})
	}
	return out, nil
}

// DecodeCDNs decodes a `cdns`-schema document into typed rows.
func DecodeCDNs(doc *bpsv.Document) ([]CDNEntry, error) {
	out := make([]CDNEntry, 0, len(doc.Rows))
	for i := range doc.Rows {
		out = append(out, CDNEntry{
			Name:       column(doc, i, "Name"),
			Path:       column(doc, i, "Path"),
			Hosts:      column(doc, i, "Hosts"),
			Servers:    column(doc, i, "Servers"),
			ConfigPath: column(doc, i, "ConfigPath"),
		})
	}
	return out, nil
}

// DecodeSummary decodes the `summary`-schema document into typed rows.
func DecodeSummary(doc *bpsv.Document) ([]SummaryEntry, error) {
	out := make([]SummaryEntry, 0, len(doc.Rows))
	for i := range doc.Rows {
		seqn, err := parseUint32(column(doc, i, "Seqn"))
		if err != nil {
			return nil, err
		}
		out = append(out, SummaryEntry{
			Product: column(doc, i, "Product"),
			Seqn:    seqn,
			Flags:   column(doc, i, "Flags"),
		})
	}
	return out, nil
}

// DecodeProducts decodes a `products`-schema document into typed rows.
func DecodeProducts(doc *bpsv.Document) ([]ProductEntry, error) {
	out := make([]ProductEntry, 0, len(doc.Rows))
	for i := range doc.Rows {
		seqn, err := parseUint32(column(doc, i, "Seqn"))
		if err != nil {
			return nil, err
		}
		out = append(out, ProductEntry{
			Product: column(doc, i, "Product"),
			Seqn:    seqn,
			Flags:   column(doc, i, "Flags"),
		})
	}
	return out, nil
}
