// Package registry fetches and normalizes npm registry metadata.
//
// The registry's packument JSON is loosely typed (optional and nullable
// fields, string-or-object unions). This package validates and
// normalizes it into strict [Manifest] values at the boundary so the
// traversal logic never handles "maybe absent" fields.
package registry

import (
	"context"
	"strings"

	"github.com/mlindner/depsentry/pkg/errors"
	"github.com/mlindner/depsentry/pkg/httputil"
)

// DefaultBaseURL is the primary npm registry origin. Requests to it run
// through the shared origin limiter.
const DefaultBaseURL = "https://registry.npmjs.org"

// Manifest is the normalized per-version view of a package.
type Manifest struct {
	Name    string
	Version string

	// Dependencies merges the manifest's dependencies, peerDependencies
	// and optionalDependencies sections, name -> declared version range.
	// On a name collision the later section wins.
	Dependencies map[string]string
}

// Client fetches package metadata from an npm-compatible registry.
type Client struct {
	fetch     *httputil.Client
	baseURL   string
	mirrorURL string
}

// NewClient creates a registry client. baseURL is the primary origin
// (limited); mirrorURL, when non-empty, serves fan-out fetches without
// the limiter. Pass "" for baseURL to use [DefaultBaseURL].
func NewClient(fetch *httputil.Client, baseURL, mirrorURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		fetch:     fetch,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		mirrorURL: strings.TrimSuffix(mirrorURL, "/"),
	}
}

// Manifest fetches metadata for one package version from the primary
// origin. An empty or "latest" version resolves through dist-tags.
func (c *Client) Manifest(ctx context.Context, name, version string) (*Manifest, error) {
	return c.manifest(ctx, name, version, true)
}

// ManifestMirror is like Manifest but prefers the mirror origin,
// bypassing the primary-origin limiter. Used for transitive-dependency
// fan-out where higher concurrency is acceptable.
func (c *Client) ManifestMirror(ctx context.Context, name, version string) (*Manifest, error) {
	return c.manifest(ctx, name, version, false)
}

func (c *Client) manifest(ctx context.Context, name, version string, primary bool) (*Manifest, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errors.New(errors.ErrCodeInvalidPackage, "empty package name")
	}

	// Without a configured mirror every request hits the primary origin
	// and must respect its limiter.
	base, limited := c.baseURL, true
	if !primary && c.mirrorURL != "" {
		base, limited = c.mirrorURL, false
	}

	resp, err := c.fetch.Fetch(ctx, base+"/"+escapeName(name), httputil.Options{
		Headers:       map[string]string{"Accept": "application/json"},
		PrimaryOrigin: limited,
	})
	if err != nil {
		return nil, err
	}
	if resp.NotFound() {
		return nil, errors.New(errors.ErrCodePackageNotFound, "npm package %s not found", name)
	}

	var data packument
	if err := resp.JSON(&data); err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "decode packument for %s", name)
	}

	if version == "" || version == "latest" {
		version = data.DistTags.Latest
	}
	v, ok := data.Versions[version]
	if !ok {
		return nil, errors.New(errors.ErrCodeVersionNotFound, "version not found: %s@%s", name, version)
	}

	return &Manifest{
		Name:         name,
		Version:      version,
		Dependencies: mergeDeclarations(v.Dependencies, v.PeerDependencies, v.OptionalDependencies),
	}, nil
}

// escapeName percent-encodes the slash in scoped package names, the
// form the npm registry expects for @scope/name paths.
func escapeName(name string) string {
	return strings.ReplaceAll(name, "/", "%2F")
}

// mergeDeclarations folds dependency sections into one declaration map,
// last write wins.
func mergeDeclarations(sections ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, s := range sections {
		for name, rng := range s {
			merged[name] = rng
		}
	}
	return merged
}

// packument mirrors the registry response shape. Only the fields the
// scanner needs are decoded.
type packument struct {
	Name     string                    `json:"name"`
	DistTags distTags                  `json:"dist-tags"`
	Versions map[string]versionDetails `json:"versions"`
}

type distTags struct {
	Latest string `json:"latest"`
}

type versionDetails struct {
	Dependencies         map[string]string `json:"dependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}
