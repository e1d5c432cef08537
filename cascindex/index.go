package cascindex

// Index is the full local CASC index: one Journal per bucket. Lookups only
// ever touch the single matching bucket journal, per spec.md §3's "lookups
// only scan the single matching bucket journal" contract.
type Index struct {
	journals [NumBuckets]*Journal
}

// NewIndex creates an empty index with all 16 buckets initialized.
func NewIndex() *Index {
	idx := &Index{}
	for b := 0; b < NumBuckets; b++ {
		idx.journals[b] = NewJournal(uint8(b))
	}
	return idx
}

// LoadJournal installs a parsed journal at its declared bucket.
func (idx *Index) LoadJournal(j *Journal) {
	idx.journals[j.Bucket()] = j
}

// Find resolves a full 16-byte EKey to its archive location and size.
func (idx *Index) Find(ekey [16]byte) (Location, uint32, bool) {
	trunc := Truncate(ekey)
	bucket := Bucket(trunc[:])
	return idx.journals[bucket].Find(trunc)
}

// Insert records a new EKey location, routed to the correct bucket
// journal by the XOR-fold function. The caller is responsible for
// eventually calling Flush on the affected journal (exclusive-writer
// discipline: spec.md §5 requires installs to hold the single writer).
func (idx *Index) Insert(ekey [16]byte, loc Location, size uint32) {
	trunc := Truncate(ekey)
	bucket := Bucket(trunc[:])
	idx.journals[bucket].Insert(trunc, loc, size)
}

// Journal returns the journal for a given bucket number, for flushing or
// inspection.
func (idx *Index) Journal(bucket uint8) *Journal {
	return idx.journals[bucket%NumBuckets]
}

// ConsolidateJournals merges many small per-bucket journals that
// accumulated during install (e.g. `0000000001.idx`, `0000000002.idx`, ...
// for the same bucket) into one group journal per bucket, keeping the most
// recent entry for any duplicate key. This mirrors the "consolidating many
// small journals into a group index is a maintenance operation" note in
// spec.md §4.9; it does not touch the archive data files themselves.
func ConsolidateJournals(bucket uint8, journals []*Journal) *Journal {
	merged := NewJournal(bucket)
	for _, j := range journals {
		for _, e := range j.Entries() {
			merged.Insert(e.TruncatedEKey, UnpackLocation(e.Location, j.header.SegmentBits), e.Size)
		}
	}
	return merged
}
