package keyservice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.csv")
	require.NoError(t, os.WriteFile(path, []byte("FA505078126ACB3E,00112233445566778899AABBCCDDEEF0\n"), 0o644))

	svc := New()
	n, err := svc.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	key, ok := svc.Get(0xFA505078126ACB3E)
	require.True(t, ok)
	require.Equal(t, [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xF0}, key)
}

func TestGetMiss(t *testing.T) {
	svc := New()
	_, ok := svc.Get(0x1234)
	require.False(t, ok)
}

func TestLoadSpaceDelimited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("FA505078126ACB3E 00112233445566778899AABBCCDDEEF0\n"), 0o644))
	svc := New()
	n, err := svc.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
