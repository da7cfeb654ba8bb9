// Package denylist maintains the set of package names treated as
// insecure: a remote-curated deny-list plus a fixed built-in set of
// unsafe native and heavyweight packages.
//
// The built-in set is always consulted. The remote list is fetched once
// and cached; a refresh failure is logged and never propagated, so
// callers always get a usable set.
package denylist

import (
	"context"
	"slices"
	"sync"

	"github.com/mlindner/depsentry/pkg/httputil"
)

// builtin is the fixed set of packages flagged regardless of the remote
// list's availability. These pull in native builds, full browsers, or
// otherwise heavyweight install-time machinery.
var builtin = []string{
	"canvas",
	"cypress",
	"electron",
	"grpc",
	"libxmljs",
	"node-sass",
	"phantomjs",
	"playwright",
	"puppeteer",
	"sharp",
	"sqlite3",
}

// Set is an immutable set of disallowed package names.
type Set struct {
	names map[string]struct{}
}

// NewSet builds a Set from names. The built-in set is not implied; use
// [Registry.Load] for the effective set.
func NewSet(names ...string) Set {
	s := Set{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// Builtin returns the fixed built-in unsafe set.
func Builtin() Set { return NewSet(builtin...) }

// Contains reports whether name is in the set.
func (s Set) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of names in the set.
func (s Set) Len() int { return len(s.names) }

// Names returns the set's contents in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// union returns a new Set containing both sets' names.
func (s Set) union(other Set) Set {
	merged := Set{names: make(map[string]struct{}, len(s.names)+len(other.names))}
	for n := range s.names {
		merged.names[n] = struct{}{}
	}
	for n := range other.names {
		merged.names[n] = struct{}{}
	}
	return merged
}

// Registry loads and caches the remote deny-list.
//
// Registry is safe for concurrent use. The remote list is refreshed by
// its own cache policy (first successful load sticks until
// [Registry.Invalidate]), independent of any scan's lifetime.
type Registry struct {
	fetch *httputil.Client
	url   string
	logf  func(format string, args ...any)

	mu     sync.Mutex
	remote *Set // nil until first successful load
}

// NewRegistry creates a Registry fetching the deny-list document from
// url. An empty url disables remote loading; the built-in set alone is
// used. logf may be nil.
func NewRegistry(fetch *httputil.Client, url string, logf func(string, ...any)) *Registry {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Registry{fetch: fetch, url: url, logf: logf}
}

// Load returns the effective deny-list: the built-in set joined with
// the remote list. A remote fetch failure is logged and the built-in
// set alone is returned; it never fails the caller.
func (r *Registry) Load(ctx context.Context) Set {
	base := Builtin()
	if r.url == "" {
		return base
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remote == nil {
		names, err := r.fetchRemote(ctx)
		if err != nil {
			r.logf("deny-list fetch failed, using built-in set only: %v", err)
			return base
		}
		s := NewSet(names...)
		r.remote = &s
	}
	return base.union(*r.remote)
}

// Invalidate drops the cached remote list so the next Load refetches.
// Callers that need fresh coverage should also clear the analysis
// cache afterwards.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.remote = nil
	r.mu.Unlock()
}

// fetchRemote retrieves and parses the deny-list document. Both a bare
// JSON array of names and an object with a "packages" array are
// accepted.
func (r *Registry) fetchRemote(ctx context.Context) ([]string, error) {
	resp, err := r.fetch.Fetch(ctx, r.url, httputil.Options{})
	if err != nil {
		return nil, err
	}

	var names []string
	if err := resp.JSON(&names); err == nil {
		return names, nil
	}

	var doc struct {
		Packages []string `json:"packages"`
	}
	if err := resp.JSON(&doc); err != nil {
		return nil, err
	}
	return doc.Packages, nil
}
