package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "us", cfg.Region)
	require.Equal(t, "wow", cfg.Product)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := &Config{Region: "eu", Product: "wow_classic", CacheDir: "/tmp/ngdp", Mirrors: []string{"a.example", "b.example"}}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NGDP_REGION", "kr")
	t.Setenv("NGDP_PRODUCT", "wow_classic_era")
	t.Setenv("NGDP_CACHE_DIR", "/var/cache/ngdp")
	t.Setenv("NGDP_MIRRORS", "mirror1.example,mirror2.example")

	cfg := Default()
	ApplyEnvOverrides(cfg)

	require.Equal(t, "kr", cfg.Region)
	require.Equal(t, "wow_classic_era", cfg.Product)
	require.Equal(t, "/var/cache/ngdp", cfg.CacheDir)
	require.Equal(t, []string{"mirror1.example", "mirror2.example"}, cfg.Mirrors)
}

func TestLoadEffectiveUsesOverridePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, &Config{Region: "tw", Product: "wow"}))

	cfg, err := LoadEffective(path)
	require.NoError(t, err)
	require.Equal(t, "tw", cfg.Region)
}

func TestStandardConfigPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("NGDP_CONFIG", "/custom/path/config.yaml")
	require.Equal(t, "/custom/path/config.yaml", StandardConfigPath())
}

func TestStandardConfigPathUnderHome(t *testing.T) {
	os.Unsetenv("NGDP_CONFIG")
	got := StandardConfigPath()
	require.NotEmpty(t, got)
	require.Contains(t, got, "ngdp")
}
