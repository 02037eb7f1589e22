// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// GatewayManifest is a small FastAPI service manifest.
const GatewayManifest = "fastapi==0.110.0\nuvicorn==0.29.0\n"

// GatewayMain is a minimal ASGI application at app/main.py.
const GatewayMain = `from fastapi import FastAPI

app = FastAPI()


@app.get("/")
def root():
    return {"status": "ok"}
`

// WriteTree writes files (slash-separated relative paths) under dir.
func WriteTree(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

// GatewayTree creates a temp source tree with the gateway manifest and app.
func GatewayTree(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	WriteTree(t, dir, map[string]string{
		"requirements.txt": GatewayManifest,
		"app/__init__.py":  "",
		"app/main.py":      GatewayMain,
	})
	return dir
}
