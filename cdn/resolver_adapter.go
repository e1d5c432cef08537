package cdn

import (
	"context"
	"encoding/hex"

	"github.com/wowemulation-dev/ngdp/resolver"
)

// ResolverFetcher adapts Client to resolver.CDNFetcher, the shape the
// resolver package's orchestration pipeline expects.
func ResolverFetcher(c *Client) resolver.CDNFetcher {
	return resolver.CDNFetcher{
		FetchRange: c.FetchArchiveIndex,
		FetchLoose: func(ctx context.Context, ekey [16]byte, kind string) ([]byte, error) {
			return c.FetchLoose(ctx, hex.EncodeToString(ekey[:]), Kind(kind))
		},
	}
}
