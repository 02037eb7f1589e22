// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/imagewright/imagewright/internal/issue"
	"github.com/imagewright/imagewright/pkg/recipe"
)

func TestRenderDefaultRecipe(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)
	out, err := execute(t, app, "render", t.TempDir())
	if err != nil {
		t.Fatalf("render = %v", err)
	}
	if out != recipe.Default().Dockerfile() {
		t.Errorf("render output:\n%s", out)
	}
}

func TestRenderRecipeFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `system_packages: ["build-essential", "curl", "libpq-dev"]` + "\n"
	if err := os.WriteFile(filepath.Join(dir, recipe.FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	app, _ := newTestApp(t)
	out, err := execute(t, app, "render", dir)
	if err != nil {
		t.Fatalf("render = %v", err)
	}
	if !strings.Contains(out, "libpq-dev") {
		t.Errorf("render output lacks the extra package:\n%s", out)
	}
}

func TestRenderInvalidRecipe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, recipe.FileName), []byte(`port: 0`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	app, _ := newTestApp(t)
	_, err := execute(t, app, "render", dir)
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue != issue.RecipeInvalidId {
		t.Errorf("render = %v, want invalid recipe", err)
	}
}
