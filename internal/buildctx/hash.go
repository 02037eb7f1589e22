// SPDX-License-Identifier: MPL-2.0

package buildctx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// CalculateFileHash returns the hex sha256 of a file's contents.
func CalculateFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CalculateDirHash hashes a tree by relative path, file mode and content.
// Timestamps are ignored, so two checkouts of the same tree hash equally.
func CalculateDirHash(dirPath string) (string, error) {
	var entries []string
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dirPath, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			entries = append(entries, fmt.Sprintf("d:%s:%o", relPath, info.Mode().Perm()))
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entries = append(entries, fmt.Sprintf("l:%s:%s", relPath, target))
		case d.Type().IsRegular():
			sum, err := CalculateFileHash(path)
			if err != nil {
				return err
			}
			entries = append(entries, fmt.Sprintf("f:%s:%o:%s", relPath, info.Mode().Perm(), sum))
		default:
			// Sockets, devices and pipes cannot be sent to the engine.
			return fmt.Errorf("%s: unsupported file type %s", relPath, d.Type())
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", dirPath, err)
	}

	sort.Strings(entries)

	h := sha256.New()
	for _, entry := range entries {
		h.Write([]byte(entry))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
