// SPDX-License-Identifier: MPL-2.0

// Package image reads built images and checks them against the recipe, and
// talks to registries for base image digests and pushes.
package image
