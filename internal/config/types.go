// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// ContainerEngineAuto picks docker, then podman.
	ContainerEngineAuto ContainerEngine = "auto"
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogLevel is returned when a log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLaunchConfig is the sentinel error wrapped by InvalidLaunchConfigError.
	ErrInvalidLaunchConfig = errors.New("invalid launch config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// LogLevel is a charmbracelet/log level name.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidLaunchConfigError collects launch field errors.
	InvalidLaunchConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError collects every field error of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the application configuration.
	Config struct {
		// ContainerEngine selects docker, podman or auto detection.
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// Build holds defaults for the build command.
		Build BuildConfig `json:"build" mapstructure:"build"`
		// Launch holds defaults for the run command.
		Launch LaunchConfig `json:"launch" mapstructure:"launch"`
		// UI holds output settings.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// BuildConfig holds build defaults.
	BuildConfig struct {
		// Tag is applied to built images when no --tag is given.
		Tag string `json:"tag" mapstructure:"tag"`
		// NoCache disables the engine layer cache.
		NoCache bool `json:"no_cache" mapstructure:"no_cache"`
		// Freeze records the installed package set after every build.
		Freeze bool `json:"freeze" mapstructure:"freeze"`
		// CacheDir holds the build ledger. Empty means the user cache directory.
		CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
	}

	// LaunchConfig holds run defaults.
	LaunchConfig struct {
		HostPort     int           `json:"host_port" mapstructure:"host_port"`
		ReadyTimeout time.Duration `json:"ready_timeout" mapstructure:"ready_timeout"`
		StopTimeout  time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
		// ReadyPath is requested over HTTP for readiness; empty means TCP only.
		ReadyPath string `json:"ready_path" mapstructure:"ready_path"`
	}

	// UIConfig holds output settings.
	UIConfig struct {
		Verbose  bool     `json:"verbose" mapstructure:"verbose"`
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
	}
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineAuto,
		Launch: LaunchConfig{
			HostPort:     8000,
			ReadyTimeout: 60 * time.Second,
			StopTimeout:  10 * time.Second,
			ReadyPath:    "/",
		},
		UI: UIConfig{LogLevel: "info"},
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if err := c.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Launch.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UI.LogLevel.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", errors.Join(e.FieldErrors...))
}

// Unwrap exposes ErrInvalidConfig and every field error.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Validate checks the port range and timeouts.
func (c LaunchConfig) Validate() error {
	var errs []error
	if c.HostPort < 1 || c.HostPort > 65535 {
		errs = append(errs, fmt.Errorf("host_port %d out of range 1-65535", c.HostPort))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ready_timeout must be positive, got %s", c.ReadyTimeout))
	}
	if c.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must not be negative, got %s", c.StopTimeout))
	}
	if c.ReadyPath != "" && !strings.HasPrefix(c.ReadyPath, "/") {
		errs = append(errs, fmt.Errorf("ready_path %q must start with /", c.ReadyPath))
	}
	if len(errs) > 0 {
		return &InvalidLaunchConfigError{FieldErrors: errs}
	}
	return nil
}

func (e *InvalidLaunchConfigError) Error() string {
	return fmt.Sprintf("invalid launch config: %s", errors.Join(e.FieldErrors...))
}

func (e *InvalidLaunchConfigError) Unwrap() error { return ErrInvalidLaunchConfig }

func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: auto, podman, docker)", e.Value)
}

func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns nil for a known engine.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEngineAuto, ContainerEnginePodman, ContainerEngineDocker:
		return nil
	default:
		return &InvalidContainerEngineError{Value: ce}
	}
}

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// Level converts l to a charmbracelet/log level.
func (l LogLevel) Level() (log.Level, error) {
	lvl, err := log.ParseLevel(string(l))
	if err != nil || lvl < log.DebugLevel || lvl > log.ErrorLevel {
		return log.InfoLevel, &InvalidLogLevelError{Value: l}
	}
	return lvl, nil
}

// Validate returns nil for a known level.
func (l LogLevel) Validate() error {
	_, err := l.Level()
	return err
}
