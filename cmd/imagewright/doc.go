// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for imagewright.
//
// The root command wires configuration, logging and the container engine into
// an App; subcommands build, render, plan, verify, push and run server images.
package cmd
