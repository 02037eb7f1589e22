// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
)

type (
	// InMemoryRegistry serves the registry API without a listener.
	// Pass CraneOpt to crane calls.
	InMemoryRegistry struct {
		RoundTripper http.RoundTripper
		Handler      http.Handler
		CraneOpt     crane.Option
	}

	inMemoryRegistryWriter struct {
		resp *http.Response
		body bytes.Buffer
	}

	inMemoryRegistryRoundTripper struct {
		handler http.Handler
	}
)

// NewInMemoryRegistry creates an empty in-memory registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	r := &InMemoryRegistry{}
	r.Handler = registry.New(registry.Logger(log.New(io.Discard, "", 0)))
	r.RoundTripper = &inMemoryRegistryRoundTripper{r.Handler}
	r.CraneOpt = crane.WithTransport(r.RoundTripper)
	return r
}

func (w *inMemoryRegistryWriter) Header() http.Header { return w.resp.Header }

func (w *inMemoryRegistryWriter) Write(data []byte) (int, error) { return w.body.Write(data) }

func (w *inMemoryRegistryWriter) WriteHeader(statusCode int) { w.resp.StatusCode = statusCode }

func (t inMemoryRegistryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		req.Body = io.NopCloser(&bytes.Buffer{})
	}
	resp := &http.Response{Status: "ok", StatusCode: http.StatusOK, Header: http.Header{}, Request: req}
	w := &inMemoryRegistryWriter{resp: resp}
	t.handler.ServeHTTP(w, req)
	resp.Body = io.NopCloser(&w.body)
	return resp, nil
}

// StartRegistry runs a registry on a loopback listener and returns its
// host:port. The server stops on cleanup.
func StartRegistry(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

// BuildImage returns an image with the given runtime config and one layer
// holding files.
func BuildImage(t testing.TB, cfg v1.Config, files map[string][]byte) v1.Image {
	t.Helper()

	img, err := mutate.ConfigFile(empty.Image, &v1.ConfigFile{
		Architecture: "amd64",
		OS:           "linux",
		Config:       cfg,
		RootFS:       v1.RootFS{Type: "layers"},
	})
	if err != nil {
		t.Fatalf("set config: %v", err)
	}

	if files == nil {
		files = map[string][]byte{"app/main.py": []byte("app = None\n")}
	}
	layer, err := crane.Layer(files)
	if err != nil {
		t.Fatalf("build layer: %v", err)
	}
	img, err = mutate.AppendLayers(img, layer)
	if err != nil {
		t.Fatalf("append layer: %v", err)
	}
	img, err = mutate.Canonical(img)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	return img
}

// GatewayConfig is the runtime config a correctly built gateway image carries.
func GatewayConfig() v1.Config {
	return v1.Config{
		Env: []string{
			"PATH=/usr/local/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"PYTHONDONTWRITEBYTECODE=1",
			"PYTHONUNBUFFERED=1",
		},
		WorkingDir:   "/app",
		ExposedPorts: map[string]struct{}{"8000/tcp": {}},
		Cmd:          []string{"uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", "8000"},
	}
}
