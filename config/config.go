// Package config loads and saves the CLI's YAML configuration file
// (region, default product, cache directory, mirror list) and applies
// NGDP_*-prefixed environment variable overrides on top of it.
//
// Grounded on the teacher's config.go (LoadConfig via tools.go's
// loadFromYAML, a struct of pointers-to-primitives/yaml tags) and on
// klog.go's EnvVars-per-flag convention for the override names.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Config is the on-disk shape of ~/.config/ngdp/config.yaml.
type Config struct {
	Region   string   `yaml:"region"`
	Product  string   `yaml:"product"`
	CacheDir string   `yaml:"cache_dir"`
	Mirrors  []string `yaml:"mirrors,omitempty"`
}

// Default returns the built-in configuration used when no config file
// exists and no environment overrides are set.
func Default() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "ngdp")
	}
	return &Config{
		Region:   "us",
		Product:  "wow",
		CacheDir: cacheDir,
	}
}

// StandardConfigPath returns the default config file location,
// ~/.config/ngdp/config.yaml (or the platform equivalent of
// os.UserConfigDir()), honoring $NGDP_CONFIG first.
func StandardConfigPath() string {
	if p := os.Getenv("NGDP_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ngdp", "config.yaml")
}

// Load reads and parses the YAML config file at path. A missing file is
// not an error: Default() is returned instead, matching the CLI's
// "works out of the box with no config file" requirement.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, atomically via a temp file and
// rename, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ApplyEnvOverrides mutates cfg in place with any NGDP_REGION,
// NGDP_PRODUCT, NGDP_CACHE_DIR, or NGDP_MIRRORS (comma-separated)
// environment variables present, the same "env var wins over file"
// convention klog.go uses for its flags.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NGDP_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("NGDP_PRODUCT"); v != "" {
		cfg.Product = v
	}
	if v := os.Getenv("NGDP_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("NGDP_MIRRORS"); v != "" {
		cfg.Mirrors = strings.Split(v, ",")
	}
}

// LoadEffective loads the config file at StandardConfigPath (or the
// override path, if non-empty), then applies environment overrides,
// returning the configuration the CLI should actually run with.
func LoadEffective(overridePath string) (*Config, error) {
	path := overridePath
	if path == "" {
		path = StandardConfigPath()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)
	klog.V(3).Infof("config: effective region=%s product=%s cache_dir=%s", cfg.Region, cfg.Product, cfg.CacheDir)
	return cfg, nil
}
