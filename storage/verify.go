package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/wowemulation-dev/ngdp/blte"
	"github.com/wowemulation-dev/ngdp/cascindex"
)

// VerifyReport summarizes one `storage verify` pass.
type VerifyReport struct {
	EntriesChecked int
	BucketMismatch []string // truncated-ekey hex strings whose bucket invariant failed
	ReadErrors     []string // "{bucket}/{truncated-ekey}: {error}"
	ChecksumErrors []string // same shape, for BLTE chunk checksum failures caught during decode
}

// OK reports whether the verify pass found zero problems.
func (r VerifyReport) OK() bool {
	return len(r.BucketMismatch) == 0 && len(r.ReadErrors) == 0 && len(r.ChecksumErrors) == 0
}

// Verify walks every loaded bucket journal, checking (per spec.md §3's
// invariants) that each entry's truncated EKey actually hashes back to the
// bucket its journal claims, and that the archive bytes at its location
// decode as a well-formed BLTE container (chunk checksums validate). It
// does not check the decoded plaintext against any CKey, since the local
// index alone does not carry CKeys (that link lives in the encoding
// table).
func (in *Installation) Verify(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport
	for bucket, j := range in.journals {
		if j == nil {
			continue
		}
		for _, e := range j.Entries() {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.EntriesChecked++
			if got := cascindex.Bucket(e.TruncatedEKey[:]); got != uint8(bucket) {
				report.BucketMismatch = append(report.BucketMismatch, fmt.Sprintf("%x", e.TruncatedEKey))
				continue
			}
			loc := cascindex.UnpackLocation(e.Location, 30)
			raw, err := in.ReadLocal(ctx, loc, e.Size)
			if err != nil {
				report.ReadErrors = append(report.ReadErrors, fmt.Sprintf("%d/%x: %v", bucket, e.TruncatedEKey, err))
				continue
			}
			if _, err := blte.Decode(raw, nil); err != nil {
				report.ChecksumErrors = append(report.ChecksumErrors, fmt.Sprintf("%d/%x: %v", bucket, e.TruncatedEKey, err))
			}
		}
	}
	return report, nil
}

// Repair drops journal entries that Verify flagged as unreadable or
// checksum-invalid (typically caused by a truncated or missing data.NNN
// file) and returns the number of entries removed. It never rewrites the
// archive files themselves — only the in-memory journal index, which the
// caller must Flush (via the journal's own Flush) to persist. This is a
// best-effort maintenance operation, not a re-download: repaired entries
// simply become "missing" again on next resolve, which falls through to
// the CDN tier.
func (in *Installation) Repair(ctx context.Context) (int, error) {
	report, err := in.Verify(ctx)
	if err != nil {
		return 0, err
	}
	// Report lines read "{bucket}/{truncated-ekey}: {error}"; the part
	// before ": " identifies the entry.
	bad := make(map[string]bool, len(report.ReadErrors)+len(report.ChecksumErrors))
	for _, s := range report.ReadErrors {
		key, _, _ := strings.Cut(s, ": ")
		bad[key] = true
	}
	for _, s := range report.ChecksumErrors {
		key, _, _ := strings.Cut(s, ": ")
		bad[key] = true
	}
	if len(bad) == 0 {
		return 0, nil
	}
	removed := 0
	for bucket, j := range in.journals {
		if j == nil {
			continue
		}
		kept := j.Entries()[:0]
		for _, e := range j.Entries() {
			key := fmt.Sprintf("%d/%x", bucket, e.TruncatedEKey)
			if bad[key] {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		j.SetEntries(kept)
	}
	return removed, nil
}
