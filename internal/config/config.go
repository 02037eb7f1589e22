// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"github.com/spf13/viper"

	"github.com/imagewright/imagewright/internal/issue"
	"github.com/imagewright/imagewright/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "imagewright"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "IMAGEWRIGHT"

	ledgerDirName = "ledger"
)

//go:embed config_schema.cue
var configSchema string

// configDirOverride lets tests bypass the user config directory.
var configDirOverride string

// SetConfigDirOverride sets a custom config directory path. Intended for tests.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}

// ConfigDir returns the imagewright configuration directory
// ($XDG_CONFIG_HOME/imagewright on Linux).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// ConfigFilePath returns the default config file location.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// LedgerDir returns where build records are kept: <cache_dir>/ledger, with
// cache_dir defaulting to $XDG_CACHE_HOME/imagewright.
func LedgerDir(cfg *Config) (string, error) {
	base := cfg.Build.CacheDir
	if base == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate cache directory: %w", err)
		}
		base = filepath.Join(dir, AppName)
	}
	return filepath.Join(base, ledgerDirName), nil
}

// LoadWithPath loads configuration and reports the file it came from, or ""
// when only defaults and environment overrides apply.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	return loadWithOptions(ctx, opts)
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("container_engine", defaults.ContainerEngine)
	v.SetDefault("build.tag", defaults.Build.Tag)
	v.SetDefault("build.no_cache", defaults.Build.NoCache)
	v.SetDefault("build.freeze", defaults.Build.Freeze)
	v.SetDefault("build.cache_dir", defaults.Build.CacheDir)
	v.SetDefault("launch.host_port", defaults.Launch.HostPort)
	v.SetDefault("launch.ready_timeout", defaults.Launch.ReadyTimeout)
	v.SetDefault("launch.stop_timeout", defaults.Launch.StopTimeout)
	v.SetDefault("launch.ready_path", defaults.Launch.ReadyPath)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("ui.log_level", defaults.UI.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'imagewright config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			dir, err := ConfigDir()
			if err != nil {
				return nil, "", err
			}
			cfgDir = dir
		}
		candidates := []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		}
		for _, p := range candidates {
			if fileExists(p) {
				resolvedPath = p
				break
			}
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check " + EnvPrefix + "_* environment overrides").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// loadCUEIntoViper validates a CUE config file against #Config and merges it
// over the defaults already registered on v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	unified, err := cueutil.Unify([]byte(configSchema), data, "#Config", path)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config file unless one exists. It
// returns the path and whether a file was written.
func CreateDefaultConfig() (string, bool, error) {
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return "", false, err
	}
	if fileExists(cfgPath) {
		return cfgPath, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, true, nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// imagewright configuration file\n\n")
	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)

	sb.WriteString("\nbuild: {\n")
	if cfg.Build.Tag != "" {
		fmt.Fprintf(&sb, "\ttag: %q\n", cfg.Build.Tag)
	}
	fmt.Fprintf(&sb, "\tno_cache: %v\n", cfg.Build.NoCache)
	fmt.Fprintf(&sb, "\tfreeze: %v\n", cfg.Build.Freeze)
	if cfg.Build.CacheDir != "" {
		fmt.Fprintf(&sb, "\tcache_dir: %q\n", cfg.Build.CacheDir)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nlaunch: {\n")
	fmt.Fprintf(&sb, "\thost_port: %d\n", cfg.Launch.HostPort)
	fmt.Fprintf(&sb, "\tready_timeout: %q\n", cfg.Launch.ReadyTimeout.String())
	fmt.Fprintf(&sb, "\tstop_timeout: %q\n", cfg.Launch.StopTimeout.String())
	fmt.Fprintf(&sb, "\tready_path: %q\n", cfg.Launch.ReadyPath)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tlog_level: %q\n", cfg.UI.LogLevel)
	sb.WriteString("}\n")

	return sb.String()
}
