// SPDX-License-Identifier: MPL-2.0

// Package watch monitors a build context and reports debounced changes, split
// into manifest, recipe and source edits so callers know which layers a
// rebuild will touch.
package watch
