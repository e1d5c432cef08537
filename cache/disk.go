package cache

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// DiskCache is the content-addressed on-disk tier, laid out as
// {root}/cdn/{kind}/{h[0:2]}/{h[2:4]}/{h}, matching the installed-client
// convention for CDN-cached blobs. Content-addressed data never expires:
// the hash in the path is the only validity check a reader needs.
type DiskCache struct {
	root string
}

// NewDiskCache creates (if needed) and returns a disk cache rooted at
// dir.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ngdperr.Resource{Op: "mkdir", Path: dir, Err: err}
	}
	return &DiskCache{root: dir}, nil
}

// path returns the on-disk location for a hex-encoded key of the given
// kind (e.g. "data", "config", "index").
func (d *DiskCache) path(kind, key string) string {
	key = normalizeKey(key)
	if len(key) < 4 {
		return filepath.Join(d.root, "cdn", kind, key)
	}
	return filepath.Join(d.root, "cdn", kind, key[0:2], key[2:4], key)
}

func normalizeKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'F' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Get reads the cached blob for key, if present.
func (d *DiskCache) Get(kind, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(kind, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &ngdperr.Resource{Op: "read", Path: d.path(kind, key), Err: err}
	}
	return data, true, nil
}

// Put writes data for key, via a temporary file in the same directory
// followed by an atomic rename, so a reader never observes a
// partially-written cache file. On a write or rename error the temp file
// is removed rather than left behind.
func (d *DiskCache) Put(kind, key string, data []byte) error {
	target := d.path(kind, key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ngdperr.Resource{Op: "mkdir", Path: dir, Err: err}
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return &ngdperr.Resource{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return &ngdperr.Resource{Op: "rename", Path: target, Err: err}
	}
	return nil
}

// Remove deletes the cached blob for key, if present. Used when a
// content-hash validation fails and the cached copy must not be served
// again.
func (d *DiskCache) Remove(kind, key string) error {
	err := os.Remove(d.path(kind, key))
	if err != nil && !os.IsNotExist(err) {
		return &ngdperr.Resource{Op: "remove", Path: d.path(kind, key), Err: err}
	}
	return nil
}
