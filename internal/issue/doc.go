// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling for imagewright.
//
// ActionableError carries the failed operation, the resource involved and a list of
// suggestions. Issue is a catalog entry with Markdown guidance rendered through glamour
// when a build or launch fails in a well-known way (missing manifest, unreachable
// engine, port contract mismatch, ...).
package issue
