// SPDX-License-Identifier: MPL-2.0

// Package pipeline runs a build: it validates the manifest, keys every layer,
// prepares the context, drives the engine, verifies the result and records it.
// Stages advance strictly in order and the first failure ends the build.
package pipeline
