// SPDX-License-Identifier: MPL-2.0

// Package container drives a container engine CLI (Docker or Podman) to build
// images, start and stop detached containers, and export images. Both engines
// share BaseCLIEngine; the concrete types only differ in detection, image
// existence checks and archive format flags.
package container
