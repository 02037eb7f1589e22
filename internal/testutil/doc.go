// SPDX-License-Identifier: MPL-2.0

// Package testutil holds shared test fixtures: source trees, synthetic OCI
// images, an in-memory registry, and a limiter for tests that drive a real
// container engine.
package testutil
