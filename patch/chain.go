package patch

import (
	"bytes"
	"crypto/md5"
	"fmt"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

func md5Sum(b []byte) [16]byte { return md5.Sum(b) }

// maxChainLength caps the number of hops BuildChain will walk, per
// spec.md §4.10's "cycle detection ... and a length cap (e.g., 10)".
const maxChainLength = 10

// ResolveEKey looks up the current encoding key for a content key, e.g.
// encodingtable.Table.FindEKey. BuildChain uses it to advance a chain: once
// an intermediate target CKey is reached, its current EKey is what a
// subsequent patch in the chain must list as its source.
type ResolveEKey func(ckey []byte) ([]byte, bool)

// BuildChain finds the sequence of patches turning content currently held
// as sourceEKey into the content named by targetCKey. It first looks for a
// single patch in targetCKey's file entry whose SourceEKey matches
// directly; failing that, it walks intermediate file entries (any entry
// whose target content, once patched, could serve as the source of a
// patch toward targetCKey), using resolveEKey to translate an
// intermediate entry's CKey into the EKey a later patch would need to
// match. Returns ngdperr.Missing{Kind: "no_path"} if no chain is found
// within the hop cap.
func (m *Manifest) BuildChain(sourceEKey, targetCKey []byte, resolveEKey ResolveEKey, validate bool) ([]PatchInfo, error) {
	type frontierItem struct {
		ekey  []byte
		chain []PatchInfo
	}

	visited := map[string]bool{string(sourceEKey): true}
	queue := []frontierItem{{ekey: sourceEKey}}

	for len(queue) > 0 && len(visited) <= maxChainLength {
		cur := queue[0]
		queue = queue[1:]

		if target, err := m.FindFileEntry(targetCKey, validate); err == nil {
			for _, p := range target.Patches {
				if bytes.Equal(p.SourceEKey, cur.ekey) {
					return append(append([]PatchInfo{}, cur.chain...), p), nil
				}
			}
		}

		for i := range m.blockTable {
			block, err := m.loadBlock(i, validate)
			if err != nil {
				continue
			}
			for _, fe := range block.Entries {
				for _, p := range fe.Patches {
					if !bytes.Equal(p.SourceEKey, cur.ekey) {
						continue
					}
					nextEKey, ok := resolveEKey(fe.TargetCKey)
					if !ok || visited[string(nextEKey)] {
						continue
					}
					visited[string(nextEKey)] = true
					nextChain := append(append([]PatchInfo{}, cur.chain...), p)
					queue = append(queue, frontierItem{ekey: nextEKey, chain: nextChain})
				}
			}
		}
	}

	return nil, &ngdperr.Missing{Kind: "no_path", Resource: fmt.Sprintf("%x -> %x", sourceEKey, targetCKey)}
}
