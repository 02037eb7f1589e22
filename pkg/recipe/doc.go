// SPDX-License-Identifier: MPL-2.0

// Package recipe describes the image build descriptor: the base image, the
// runtime environment, the dependency install steps, the declared port and
// the launch command. A Recipe renders to an ordered list of Instructions,
// each completing exactly one build Stage, and from there to a Dockerfile.
package recipe
