package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wowemulation-dev/ngdp/cascindex"
)

func TestInitCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	in, err := Init(dir)
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(dir, "Data", "data"))
	require.DirExists(t, filepath.Join(dir, "Data", "indices"))
	require.Empty(t, in.Buckets())
}

func writeArchive(t *testing.T, dir string, index uint32, content []byte) {
	t.Helper()
	path := filepath.Join(dir, "Data", "data")
	require.NoError(t, os.MkdirAll(path, 0o755))
	f := filepath.Join(path, "data.000")
	_ = index
	require.NoError(t, os.WriteFile(f, content, 0o644))
}

func TestReadLocalRoundTrips(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir)
	require.NoError(t, err)

	payload := []byte("hello from a local casc archive")
	writeArchive(t, dir, 0, payload)

	in, err := Open(dir)
	require.NoError(t, err)
	defer in.Close()

	got, err := in.ReadLocal(context.Background(), cascindex.Location{ArchiveIndex: 0, Offset: 6}, uint32(len(payload)-6))
	require.NoError(t, err)
	require.Equal(t, "from a local casc archive", string(got))
}

func TestFindMissesOnEmptyInstallation(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir)
	require.NoError(t, err)
	in, err := Open(dir)
	require.NoError(t, err)
	_, _, ok := in.Find([16]byte{1, 2, 3})
	require.False(t, ok)
}
