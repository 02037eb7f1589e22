// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

const (
	// DefaultBaseImage is the official slim Python runtime image.
	DefaultBaseImage = "python:3.11-slim"
	// DefaultWorkDir is the image working directory.
	DefaultWorkDir = "/app"
	// ManifestPath is the dependency manifest location, relative to the build
	// context root and to the working directory.
	ManifestPath = "requirements.txt"
	// DefaultPort is the documented service port.
	DefaultPort = 8000
	// DefaultServerProgram is the ASGI server executable.
	DefaultServerProgram = "uvicorn"
	// DefaultAppImportPath locates the ASGI application object.
	DefaultAppImportPath = "app.main:app"
	// DefaultServerHost binds every interface.
	DefaultServerHost = "0.0.0.0"
)

var (
	// ErrInvalidRecipe is the sentinel wrapped by InvalidRecipeError.
	ErrInvalidRecipe = errors.New("invalid recipe")

	envNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	debPackagePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)
	appImportPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*:[A-Za-z_][A-Za-z0-9_]*$`)
)

type (
	// EnvVar is one image-wide environment variable.
	EnvVar struct {
		Name  string
		Value string
	}

	// Server is the launch command: an ASGI server serving an import path.
	Server struct {
		Program string
		App     string
		Host    string
		Port    int
	}

	// Recipe is the full build descriptor.
	Recipe struct {
		BaseImage      string
		Env            []EnvVar
		WorkDir        string
		SystemPackages []string
		Port           int
		Server         Server
	}

	// InvalidRecipeError collects every field error found by Validate.
	InvalidRecipeError struct {
		FieldErrors []error
	}
)

func (e *InvalidRecipeError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid recipe: %s", strings.Join(msgs, "; "))
}

func (e *InvalidRecipeError) Unwrap() error { return ErrInvalidRecipe }

// Default returns the built-in recipe: a slim Python base, unbuffered output
// without bytecode files, a compiler toolchain plus curl, pip dependencies
// from requirements.txt, and uvicorn serving app.main:app on port 8000.
func Default() *Recipe {
	return &Recipe{
		BaseImage: DefaultBaseImage,
		Env: []EnvVar{
			{Name: "PYTHONDONTWRITEBYTECODE", Value: "1"},
			{Name: "PYTHONUNBUFFERED", Value: "1"},
		},
		WorkDir:        DefaultWorkDir,
		SystemPackages: []string{"build-essential", "curl"},
		Port:           DefaultPort,
		Server: Server{
			Program: DefaultServerProgram,
			App:     DefaultAppImportPath,
			Host:    DefaultServerHost,
			Port:    DefaultPort,
		},
	}
}

// Clone returns a deep copy of r.
func (r *Recipe) Clone() *Recipe {
	c := *r
	c.Env = slices.Clone(r.Env)
	c.SystemPackages = slices.Clone(r.SystemPackages)
	return &c
}

// BaseReference parses BaseImage as an OCI image reference.
func (r *Recipe) BaseReference() (name.Reference, error) {
	return name.ParseReference(r.BaseImage)
}

// Argv is the exec-form launch command.
func (s Server) Argv() []string {
	return []string{s.Program, s.App, "--host", s.Host, "--port", strconv.Itoa(s.Port)}
}

// EnvMap returns the recipe environment keyed by name.
func (r *Recipe) EnvMap() map[string]string {
	m := make(map[string]string, len(r.Env))
	for _, e := range r.Env {
		m[e.Name] = e.Value
	}
	return m
}

// Validate returns an InvalidRecipeError listing every invalid field.
func (r *Recipe) Validate() error {
	var errs []error

	if _, err := r.BaseReference(); err != nil {
		errs = append(errs, fmt.Errorf("base image %q: %w", r.BaseImage, err))
	}

	if len(r.Env) == 0 {
		errs = append(errs, errors.New("env must declare at least one variable"))
	}
	seen := make(map[string]bool, len(r.Env))
	for _, e := range r.Env {
		if !envNamePattern.MatchString(e.Name) {
			errs = append(errs, fmt.Errorf("env name %q is not a valid identifier", e.Name))
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("env name %q is set twice", e.Name))
		}
		seen[e.Name] = true
	}

	if !path.IsAbs(r.WorkDir) {
		errs = append(errs, fmt.Errorf("workdir %q must be an absolute path", r.WorkDir))
	}

	for _, p := range r.SystemPackages {
		if !debPackagePattern.MatchString(p) {
			errs = append(errs, fmt.Errorf("system package %q is not a valid package name", p))
		}
	}

	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range 1-65535", r.Port))
	}
	if r.Server.Port != r.Port {
		errs = append(errs, fmt.Errorf("server port %d does not match declared port %d", r.Server.Port, r.Port))
	}
	if strings.TrimSpace(r.Server.Program) == "" {
		errs = append(errs, errors.New("server program must not be empty"))
	}
	if !appImportPattern.MatchString(r.Server.App) {
		errs = append(errs, fmt.Errorf("app %q must have the form module.path:attribute", r.Server.App))
	}
	if strings.TrimSpace(r.Server.Host) == "" {
		errs = append(errs, errors.New("server host must not be empty"))
	}

	for _, in := range r.Instructions() {
		if in.Keyword != KeywordRun {
			continue
		}
		if err := checkShell(in.Body); err != nil {
			errs = append(errs, fmt.Errorf("%s instruction: %w", in.Stage, err))
		}
	}

	if len(errs) > 0 {
		return &InvalidRecipeError{FieldErrors: errs}
	}
	return nil
}
