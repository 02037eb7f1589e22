// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/imagewright/imagewright/pkg/cueutil"
)

// FileName is the recipe file looked up in the build context.
const FileName = "imagewright.cue"

//go:embed recipe_schema.cue
var recipeSchema []byte

type (
	fileEnvVar struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	fileServer struct {
		Program string `json:"program,omitempty"`
		App     string `json:"app,omitempty"`
		Host    string `json:"host,omitempty"`
		Port    int    `json:"port,omitempty"`
	}

	// file mirrors #Recipe. Nil slices and zero values mean "keep the default".
	file struct {
		BaseImage      string       `json:"base_image,omitempty"`
		Env            []fileEnvVar `json:"env,omitempty"`
		WorkDir        string       `json:"workdir,omitempty"`
		SystemPackages []string     `json:"system_packages,omitempty"`
		Port           int          `json:"port,omitempty"`
		Server         *fileServer  `json:"server,omitempty"`
	}
)

// Load reads a recipe file and overlays it on Default. The result is validated.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	return Parse(data, path)
}

// LoadOrDefault loads path when it exists and returns Default otherwise.
func LoadOrDefault(path string) (*Recipe, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes CUE recipe source against the embedded schema.
func Parse(data []byte, filename string) (*Recipe, error) {
	res, err := cueutil.ParseAndDecode[file](recipeSchema, data, "#Recipe", cueutil.WithFilename(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}

	r := res.Value.apply(Default())
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (f *file) apply(r *Recipe) *Recipe {
	if f.BaseImage != "" {
		r.BaseImage = f.BaseImage
	}
	if f.Env != nil {
		r.Env = make([]EnvVar, 0, len(f.Env))
		for _, e := range f.Env {
			r.Env = append(r.Env, EnvVar{Name: e.Name, Value: e.Value})
		}
	}
	if f.WorkDir != "" {
		r.WorkDir = f.WorkDir
	}
	if f.SystemPackages != nil {
		r.SystemPackages = f.SystemPackages
	}
	if f.Port != 0 {
		r.Port = f.Port
		// The launch port follows the declared port unless set explicitly.
		r.Server.Port = f.Port
	}
	if s := f.Server; s != nil {
		if s.Program != "" {
			r.Server.Program = s.Program
		}
		if s.App != "" {
			r.Server.App = s.App
		}
		if s.Host != "" {
			r.Server.Host = s.Host
		}
		if s.Port != 0 {
			r.Server.Port = s.Port
		}
	}
	return r
}
