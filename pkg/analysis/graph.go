package analysis

import (
	"context"
	"slices"
	"sync"

	"github.com/mlindner/depsentry/pkg/denylist"
	"github.com/mlindner/depsentry/pkg/errors"
	"github.com/mlindner/depsentry/pkg/registry"
)

const (
	// defaultMaxDepth is how many dependency levels below the root are
	// fetched. Names discovered from the deepest fetched manifests are
	// still checked against the deny-list.
	defaultMaxDepth = 3

	// defaultBatchSize bounds simultaneous metadata fetches within one
	// dependency level.
	defaultBatchSize = 10
)

// MetadataSource supplies per-version package manifests. Implemented by
// [registry.Client]; tests substitute fakes.
type MetadataSource interface {
	// Manifest fetches through the rate-limited primary origin.
	Manifest(ctx context.Context, name, version string) (*registry.Manifest, error)

	// ManifestMirror prefers the mirror origin for fan-out traffic.
	ManifestMirror(ctx context.Context, name, version string) (*registry.Manifest, error)
}

// GraphConfig tunes a [GraphScanner]. Zero values use defaults.
type GraphConfig struct {
	MaxDepth  int
	BatchSize int
	Logf      func(format string, args ...any)
}

// GraphScanner analyzes declared dependencies by walking registry
// metadata breadth-first.
//
// The traversal is cycle-safe: a visited set keyed by name@declaredRange
// prunes repeated edges, so cyclic graphs (A->B->A) terminate. Levels
// run sequentially; within a level, siblings are fetched in concurrent
// batches. A failed fetch for a single edge is logged and treated as
// "no further information" for that edge only.
type GraphScanner struct {
	source    MetadataSource
	deny      *denylist.Registry
	maxDepth  int
	batchSize int
	logf      func(string, ...any)
}

// NewGraphScanner creates a metadata-traversal scanner.
func NewGraphScanner(source MetadataSource, deny *denylist.Registry, cfg GraphConfig) *GraphScanner {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	return &GraphScanner{
		source:    source,
		deny:      deny,
		maxDepth:  cfg.MaxDepth,
		batchSize: cfg.BatchSize,
		logf:      cfg.Logf,
	}
}

// edge is one declared dependency: a name and the range it was declared
// with. The pair keys the visited set.
type edge struct {
	name string
	rng  string
}

func (e edge) key() string { return e.name + "@" + e.rng }

// Scan fetches the root manifest and walks its dependency graph.
// Analysis failures (absent version, exhausted retries on the root
// fetch) are recorded on the result, never returned as errors.
func (s *GraphScanner) Scan(ctx context.Context, id Identity) (*Result, error) {
	res := newResult()
	deny := s.deny.Load(ctx)

	root, err := s.source.Manifest(ctx, id.Name, id.Version)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errors.ErrCodeVersionNotFound) || errors.Is(err, errors.ErrCodePackageNotFound) {
			res.Err = "version not found"
		} else {
			s.logf("root fetch failed: %s: %v", id, err)
			res.Err = err.Error()
		}
		return res, nil
	}

	res.flag(id.Name, deny)

	visited := make(map[string]bool)
	level := declarationEdges(root.Dependencies)
	for depth := 1; len(level) > 0; depth++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		level = s.scanLevel(ctx, level, depth, deny, visited, res)
	}
	return res, nil
}

// scanLevel checks one level's names against the deny-list and fetches
// their manifests to discover the next level. Fetching stops past the
// depth bound; name checks still run for edges already discovered.
func (s *GraphScanner) scanLevel(ctx context.Context, level []edge, depth int, deny denylist.Set, visited map[string]bool, res *Result) []edge {
	fresh := make([]edge, 0, len(level))
	for _, e := range level {
		if visited[e.key()] {
			continue
		}
		visited[e.key()] = true
		res.flag(e.name, deny)
		fresh = append(fresh, e)
	}
	if depth > s.maxDepth {
		return nil
	}

	// Fetch in fixed-size batches so one level never holds more than
	// batchSize requests in flight. Results keep slice order so match
	// insertion order stays deterministic.
	manifests := make([]*registry.Manifest, len(fresh))
	for start := 0; start < len(fresh); start += s.batchSize {
		end := min(start+s.batchSize, len(fresh))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m, err := s.source.ManifestMirror(ctx, fresh[i].name, "latest")
				if err != nil {
					s.logf("dependency fetch failed: %s: %v", fresh[i].name, err)
					return
				}
				manifests[i] = m
			}(i)
		}
		wg.Wait()
	}

	var next []edge
	for _, m := range manifests {
		if m == nil {
			continue
		}
		next = append(next, declarationEdges(m.Dependencies)...)
	}
	return next
}

// declarationEdges converts a merged declaration map into edges in
// sorted name order. Declarations are unordered; sorting keeps
// traversal (and therefore match order) deterministic.
func declarationEdges(deps map[string]string) []edge {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	slices.Sort(names)

	edges := make([]edge, 0, len(names))
	for _, name := range names {
		edges = append(edges, edge{name: name, rng: deps[name]})
	}
	return edges
}
