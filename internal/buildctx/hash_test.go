// SPDX-License-Identifier: MPL-2.0

package buildctx

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCalculateDirHash_IgnoresTimestamps(t *testing.T) {
	t.Parallel()

	files := map[string]string{"requirements.txt": "fastapi\n", "app/main.py": "app = None\n"}
	a, b := t.TempDir(), t.TempDir()
	writeTree(t, a, files)
	writeTree(t, b, files)

	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(b, "app", "main.py"), old, old); err != nil {
		t.Fatal(err)
	}

	ha, err := CalculateDirHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := CalculateDirHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("identical trees hash differently: %s vs %s", ha, hb)
	}
}

func TestCalculateDirHash_DetectsChanges(t *testing.T) {
	t.Parallel()

	base := map[string]string{"requirements.txt": "fastapi\n", "app/main.py": "app = None\n"}

	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{"content", func(t *testing.T, dir string) {
			writeTree(t, dir, map[string]string{"app/main.py": "app = 1\n"})
		}},
		{"new file", func(t *testing.T, dir string) {
			writeTree(t, dir, map[string]string{"README.md": "hi\n"})
		}},
		{"rename", func(t *testing.T, dir string) {
			if err := os.Rename(filepath.Join(dir, "app", "main.py"), filepath.Join(dir, "app", "server.py")); err != nil {
				t.Fatal(err)
			}
		}},
		{"mode", func(t *testing.T, dir string) {
			if err := os.Chmod(filepath.Join(dir, "app", "main.py"), 0o755); err != nil {
				t.Fatal(err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeTree(t, dir, base)
			before, err := CalculateDirHash(dir)
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(t, dir)
			after, err := CalculateDirHash(dir)
			if err != nil {
				t.Fatal(err)
			}
			if before == after {
				t.Error("hash did not change")
			}
		})
	}
}

func TestCopyDir_Symlink(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"app/main.py": "app = None\n"})
	if err := os.Symlink("app/main.py", filepath.Join(src, "entry.py")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "out")
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir() error = %v", err)
	}
	link, err := os.Readlink(filepath.Join(dst, "entry.py"))
	if err != nil || link != "app/main.py" {
		t.Errorf("symlink = %q, %v", link, err)
	}
}
