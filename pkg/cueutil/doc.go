// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE decoding flow shared by the recipe and config
// loaders: compile the embedded schema, unify the user file with a root
// definition, validate, then decode into a Go value.
//
//	//go:embed recipe_schema.cue
//	var schema []byte
//
//	result, err := cueutil.ParseAndDecode[recipe.File](schema, data, "#Recipe",
//	    cueutil.WithFilename("imagewright.cue"))
package cueutil
