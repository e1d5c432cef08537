package tact

import (
	"strings"

	"github.com/wowemulation-dev/ngdp/cdn"
)

// Mirrors splits a CDNEntry's space-separated Hosts list into
// cdn.Mirror values, so callers don't need to know the `cdns` schema's
// host/path convention.
func (e CDNEntry) Mirrors() []cdn.Mirror {
	hosts := strings.Fields(e.Hosts)
	out := make([]cdn.Mirror, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, cdn.Mirror{Host: h, Path: e.Path})
	}
	return out
}
