// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/imagewright/config.cue (or the
// platform equivalent reported by os.UserConfigDir), falling back to a config.cue
// in the current directory. Every key can be overridden by an IMAGEWRIGHT_
// environment variable, e.g. IMAGEWRIGHT_LAUNCH_HOST_PORT=9000.
//
// Files are validated against the embedded CUE schema (config_schema.cue) before
// they are merged over the defaults.
package config
