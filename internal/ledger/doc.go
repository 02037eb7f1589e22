// SPDX-License-Identifier: MPL-2.0

// Package ledger keeps a TOML record of every successful build: the layer key
// chain, the inputs that produced it and, optionally, the installed package
// set. Records drive plan diffs and determinism checks. A failed build never
// writes a record.
package ledger
