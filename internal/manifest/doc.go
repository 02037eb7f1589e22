// SPDX-License-Identifier: MPL-2.0

// Package manifest reads the pip dependency manifest (requirements.txt).
// The manifest must be self-contained: nested requirement or constraint files
// and editable installs are rejected, because the dependency layer key covers
// only this one file.
package manifest
