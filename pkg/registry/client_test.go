package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mlindner/depsentry/pkg/errors"
	"github.com/mlindner/depsentry/pkg/httputil"
)

const leftpadPackument = `{
	"name": "leftpad-like",
	"dist-tags": {"latest": "1.0.0"},
	"versions": {
		"1.0.0": {}
	}
}`

const mergedPackument = `{
	"name": "widget",
	"dist-tags": {"latest": "2.0.0"},
	"versions": {
		"2.0.0": {
			"dependencies": {"a": "^1.0.0", "b": "~2.1.0"},
			"peerDependencies": {"b": ">=3.0.0", "c": "*"},
			"optionalDependencies": {"d": "^0.1.0"}
		}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	fetch := httputil.NewClient(httputil.Config{MaxRetries: 1}, nil)
	return NewClient(fetch, server.URL, ""), server
}

func TestManifestEmptyDependencies(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(leftpadPackument))
	})

	m, err := c.Manifest(context.Background(), "leftpad-like", "1.0.0")
	if err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}
	if m.Name != "leftpad-like" || m.Version != "1.0.0" {
		t.Errorf("Manifest() = %s@%s, want leftpad-like@1.0.0", m.Name, m.Version)
	}
	if len(m.Dependencies) != 0 {
		t.Errorf("Dependencies = %v, want empty", m.Dependencies)
	}
}

func TestManifestMergesDeclarationSections(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mergedPackument))
	})

	m, err := c.Manifest(context.Background(), "widget", "2.0.0")
	if err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}

	want := map[string]string{
		"a": "^1.0.0",
		"b": ">=3.0.0", // peer section wins over regular on collision
		"c": "*",
		"d": "^0.1.0",
	}
	if len(m.Dependencies) != len(want) {
		t.Fatalf("Dependencies = %v, want %v", m.Dependencies, want)
	}
	for name, rng := range want {
		if m.Dependencies[name] != rng {
			t.Errorf("Dependencies[%q] = %q, want %q", name, m.Dependencies[name], rng)
		}
	}
}

func TestManifestVersionNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(leftpadPackument))
	})

	_, err := c.Manifest(context.Background(), "leftpad-like", "9.9.9")
	if !errors.Is(err, errors.ErrCodeVersionNotFound) {
		t.Errorf("Manifest() error = %v, want VERSION_NOT_FOUND", err)
	}
}

func TestManifestPackageNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Manifest(context.Background(), "no-such-package", "1.0.0")
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Errorf("Manifest() error = %v, want PACKAGE_NOT_FOUND", err)
	}
}

func TestManifestLatestResolvesDistTag(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(leftpadPackument))
	})

	m, err := c.Manifest(context.Background(), "leftpad-like", "latest")
	if err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}
	if m.Version != "1.0.0" {
		t.Errorf("Version = %s, want 1.0.0 from dist-tags", m.Version)
	}
}

func TestManifestScopedNameEscaped(t *testing.T) {
	var path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		w.Write([]byte(`{"name":"@scope/pkg","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{}}}`))
	})

	if _, err := c.Manifest(context.Background(), "@scope/pkg", "1.0.0"); err != nil {
		t.Fatalf("Manifest() error: %v", err)
	}
	if path != "/@scope%2Fpkg" {
		t.Errorf("request path = %q, want /@scope%%2Fpkg", path)
	}
}

func TestManifestMirrorPrefersMirrorOrigin(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("primary origin should not be hit for mirror fetches")
	}))
	defer primary.Close()

	var mirrorHits int
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrorHits++
		w.Write([]byte(leftpadPackument))
	}))
	defer mirror.Close()

	fetch := httputil.NewClient(httputil.Config{MaxRetries: 1}, nil)
	c := NewClient(fetch, primary.URL, mirror.URL)

	if _, err := c.ManifestMirror(context.Background(), "leftpad-like", "latest"); err != nil {
		t.Fatalf("ManifestMirror() error: %v", err)
	}
	if mirrorHits != 1 {
		t.Errorf("mirror hits = %d, want 1", mirrorHits)
	}
}
