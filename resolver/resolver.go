// Package resolver is the top-level coordinator: path/FileDataID/CKey/EKey
// in, plaintext bytes out, walking local CASC, CDN archives, and loose CDN
// fetches in order and validating the result's content hash.
//
// Grounded on the teacher's orchestration style in split-car-fetcher and
// first-success.go: small interfaces for each storage tier, tried in a
// fixed order, with the final content hash checked before returning.
package resolver

import (
	"context"
	"crypto/md5"
	"fmt"

	"github.com/wowemulation-dev/ngdp/blte"
	"github.com/wowemulation-dev/ngdp/cascindex"
	"github.com/wowemulation-dev/ngdp/cdnindex"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"k8s.io/klog/v2"
)

// PathResolver resolves a Root/TVFS path or FileDataID to a content key.
// encodingtable.Table does not implement this; rootfile.Manifest satisfies
// it directly. tvfs.Manifest does not: it resolves paths to span lists and
// has no FileDataID lookup.
type PathResolver interface {
	ResolvePath(path string, localeMask uint32, excludeContentMask uint64) ([16]byte, bool)
	ResolveFileDataID(id uint32, localeMask uint32, excludeContentMask uint64) ([16]byte, bool)
}

// EncodingTable resolves a content key to its encoding key(s), in
// insertion order (spec.md's "ekey_count>1 returns all EKeys in insertion
// order" boundary case). encodingtable.Table satisfies this directly.
type EncodingTable interface {
	FindAllEKeys(ckey [16]byte) [][16]byte
}

// LocalIndex is the local CASC `.idx` lookup. cascindex.Index satisfies
// this directly.
type LocalIndex interface {
	Find(ekey [16]byte) (cascindex.Location, uint32, bool)
}

// LocalArchiveReader reads BLTE-encoded bytes out of a local CASC data
// archive at the location the local index named.
type LocalArchiveReader interface {
	ReadLocal(ctx context.Context, loc cascindex.Location, size uint32) ([]byte, error)
}

// CDNIndex is one loaded CDN archive index (or synthesized archive
// group). cdnindex.Table satisfies this directly.
type CDNIndex interface {
	Find(ekey []byte) (cdnindex.Entry, bool, error)
}

// CDNFetcher performs the two CDN-level retrieval modes: a byte-range
// read out of a named archive, and a whole-file "loose" fetch by EKey.
// Implemented by the cdn package.
type CDNFetcher struct {
	FetchRange func(ctx context.Context, archiveIndex uint16, offset, size uint32) ([]byte, error)
	FetchLoose func(ctx context.Context, ekey [16]byte, kind string) ([]byte, error)
}

// Resolver wires together every storage tier the pipeline in spec.md
// §4.11 walks. Any tier may be left nil; Resolve skips a nil tier as a
// miss and falls through to the next one.
type Resolver struct {
	Paths    PathResolver
	Encoding EncodingTable
	Local    LocalIndex
	Archive  LocalArchiveReader
	CDNIdx   CDNIndex
	CDN      CDNFetcher
	Keys     blte.KeyLookup
}

// Ref identifies the file to resolve: exactly one of Path, FileDataID,
// CKey, or EKey should be set; HasX flags disambiguate a zero-valued
// FileDataID/CKey/EKey from "not provided".
type Ref struct {
	Path               string
	FileDataID         uint32
	HasFileDataID      bool
	CKey               [16]byte
	HasCKey            bool
	EKey               [16]byte
	HasEKey            bool
	LocaleMask         uint32
	ExcludeContentMask uint64
}

// Resolve runs the full pipeline described in spec.md §4.11: resolve to a
// CKey if necessary, look up its EKey(s), try each EKey across local CASC,
// CDN archive index, and loose CDN fetch in turn, decode the retrieved
// BLTE container, and validate the plaintext's MD5 against the CKey
// (skipped when the caller supplied a bare EKey with no known CKey).
func (r *Resolver) Resolve(ctx context.Context, ref Ref) ([]byte, error) {
	ckey := ref.CKey
	haveCKey := ref.HasCKey

	if !haveCKey && (ref.Path != "" || ref.HasFileDataID) {
		if r.Paths == nil {
			return nil, &ngdperr.Missing{Kind: "no_path_resolver", Resource: ref.Path}
		}
		var ok bool
		if ref.Path != "" {
			ckey, ok = r.Paths.ResolvePath(ref.Path, ref.LocaleMask, ref.ExcludeContentMask)
		} else {
			ckey, ok = r.Paths.ResolveFileDataID(ref.FileDataID, ref.LocaleMask, ref.ExcludeContentMask)
		}
		if !ok {
			return nil, &ngdperr.Missing{Kind: "path", Resource: ref.Path}
		}
		haveCKey = true
	}

	var ekeys [][16]byte
	switch {
	case haveCKey:
		if r.Encoding == nil {
			return nil, &ngdperr.Missing{Kind: "no_encoding_table", Resource: fmt.Sprintf("%x", ckey)}
		}
		ekeys = r.Encoding.FindAllEKeys(ckey)
		if len(ekeys) == 0 {
			return nil, &ngdperr.Missing{Kind: "ckey", Resource: fmt.Sprintf("%x", ckey)}
		}
	case ref.HasEKey:
		ekeys = [][16]byte{ref.EKey}
	default:
		return nil, &ngdperr.Protocol{Kind: "bad_ref", Detail: "resolve requires a path, FileDataID, CKey, or EKey"}
	}

	var lastErr error
	for _, ekey := range ekeys {
		raw, err := r.fetchEKey(ctx, ekey)
		if err != nil {
			lastErr = err
			klog.V(2).Infof("resolver: ekey %x fetch failed: %v", ekey, err)
			continue
		}
		plain, err := blte.Decode(raw, r.Keys)
		if err != nil {
			lastErr = err
			klog.V(2).Infof("resolver: ekey %x blte decode failed: %v", ekey, err)
			continue
		}
		if haveCKey {
			sum := md5.Sum(plain)
			if sum != ckey {
				lastErr = &ngdperr.Integrity{
					Kind: "ckey_mismatch", Resource: fmt.Sprintf("ekey %x", ekey),
					Expected: fmt.Sprintf("%x", ckey), Actual: fmt.Sprintf("%x", sum),
				}
				klog.V(2).Infof("resolver: ekey %x content hash mismatch, trying next", ekey)
				continue
			}
		}
		return plain, nil
	}

	if lastErr == nil {
		lastErr = &ngdperr.Missing{Kind: "ekey", Resource: fmt.Sprintf("%d candidates exhausted", len(ekeys))}
	}
	return nil, lastErr
}

// fetchEKey walks local CASC index, CDN archive index, then loose CDN
// fetch, in the order spec.md §4.11 step 3 requires.
func (r *Resolver) fetchEKey(ctx context.Context, ekey [16]byte) ([]byte, error) {
	if r.Local != nil && r.Archive != nil {
		if loc, size, ok := r.Local.Find(ekey); ok {
			data, err := r.Archive.ReadLocal(ctx, loc, size)
			if err == nil {
				return data, nil
			}
			klog.V(3).Infof("resolver: local archive read for %x failed, falling through: %v", ekey, err)
		}
	}

	if r.CDNIdx != nil && r.CDN.FetchRange != nil {
		if entry, ok, err := r.CDNIdx.Find(ekey[:]); err == nil && ok {
			data, err := r.CDN.FetchRange(ctx, entry.ArchiveIndex, entry.Offset, entry.EncodedSize)
			if err == nil {
				return data, nil
			}
			klog.V(3).Infof("resolver: CDN archive range fetch for %x failed, falling through: %v", ekey, err)
		}
	}

	if r.CDN.FetchLoose != nil {
		return r.CDN.FetchLoose(ctx, ekey, "data")
	}

	return nil, &ngdperr.Missing{Kind: "ekey_unreachable", Resource: fmt.Sprintf("%x", ekey)}
}
