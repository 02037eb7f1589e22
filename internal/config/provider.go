// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"path/filepath"
)

// LoadOptions selects which config.cue the CLI reads.
type LoadOptions struct {
	// ConfigFilePath is the --config flag value. A missing file is an error.
	ConfigFilePath string
	// ConfigDirPath replaces the user config directory in the lookup.
	ConfigDirPath string
}

// Provider is how commands obtain their settings. Tests substitute a static one.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
}

type cueProvider struct{}

// NewProvider returns the provider that layers config.cue and IMAGEWRIGHT_*
// variables over the built-in defaults.
func NewProvider() Provider {
	return cueProvider{}
}

// Load resolves the settings. A relative build.cache_dir read from a file is
// anchored at that file's directory so the ledger does not move with the
// working directory.
func (cueProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, path, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	if path != "" && cfg.Build.CacheDir != "" && !filepath.IsAbs(cfg.Build.CacheDir) {
		cfg.Build.CacheDir = filepath.Join(filepath.Dir(path), cfg.Build.CacheDir)
	}
	return cfg, nil
}
