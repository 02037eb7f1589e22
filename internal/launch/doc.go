// SPDX-License-Identifier: MPL-2.0

// Package launch runs a built server image: it starts the container with its
// default command, streams its logs, waits until the server answers, checks
// the published port contract and stops the container when the context ends.
//
// A Launcher is single-use. Once stopped or failed, create a new one.
package launch
