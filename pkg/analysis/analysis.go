// Package analysis implements the dependency security analysis engine.
//
// A scan takes a package [Identity] and decides whether the package or
// its transitive dependencies contain disallowed packages. Two
// interchangeable strategies implement the [Scanner] contract:
//
//   - [GraphScanner] walks declared dependencies through registry
//     metadata, breadth-first with a depth bound and a visited set.
//   - [SandboxScanner] performs a real, script-disabled install into an
//     ephemeral directory and walks the installed package tree.
//
// Results are memoized per identity by [Cache]; wrap a strategy with
// [Memoized] to get the caching behavior callers expect.
//
// No error arising from analyzing one package propagates to the
// analysis of any other: strategies always return a [Result], using
// Result.Err for failures local to that scan.
package analysis

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mlindner/depsentry/pkg/denylist"
	"github.com/mlindner/depsentry/pkg/errors"
)

// Identity uniquely identifies one published package release.
// It is immutable once formed.
type Identity struct {
	Name    string
	Version string
}

// Key returns the "name@version" cache key for this identity.
func (id Identity) Key() string { return id.Name + "@" + id.Version }

// String implements fmt.Stringer.
func (id Identity) String() string { return id.Key() }

// ParseIdentity parses "name@version" into an Identity, handling scoped
// names like "@scope/pkg@1.2.3".
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return Identity{}, errors.New(errors.ErrCodeInvalidPackage, "expected name@version, got %q", s)
	}
	return Identity{Name: strings.ToLower(s[:at]), Version: s[at+1:]}, nil
}

// Result is the verdict for one scanned identity.
type Result struct {
	// Insecure is true when the package or any analyzed dependency
	// matched the deny-list.
	Insecure bool

	// InsecurePackages lists matched names in insertion order, without
	// duplicates.
	InsecurePackages []string

	// AnalyzedAt is when the scan produced this result.
	AnalyzedAt time.Time

	// Err records a failure local to this scan ("version not found",
	// install failure). A result with Err set is still a valid,
	// cacheable verdict; it just carries less information.
	Err string
}

// newResult creates an empty verdict stamped with the current time.
func newResult() *Result {
	return &Result{InsecurePackages: []string{}, AnalyzedAt: time.Now().UTC()}
}

// flag records name as insecure if the deny-list contains it.
// Duplicate matches are ignored. Not safe for concurrent use; callers
// flag from a single goroutine.
func (r *Result) flag(name string, deny denylist.Set) {
	if !deny.Contains(name) || slices.Contains(r.InsecurePackages, name) {
		return
	}
	r.Insecure = true
	r.InsecurePackages = append(r.InsecurePackages, name)
}

// Record is the persistence handoff shape attached to a package's
// stored catalog entry.
type Record struct {
	Analyzed         bool     `json:"analyzed"`
	AnalyzedAt       *string  `json:"analyzedAt"`
	InsecurePackages []string `json:"insecurePackages"`
	HasError         bool     `json:"hasError"`
}

// Record converts the result to its persisted form. AnalyzedAt is
// rendered as ISO-8601, or null when the scan never ran.
func (r *Result) Record() Record {
	rec := Record{
		Analyzed:         true,
		InsecurePackages: r.InsecurePackages,
		HasError:         r.Err != "",
	}
	if rec.InsecurePackages == nil {
		rec.InsecurePackages = []string{}
	}
	if !r.AnalyzedAt.IsZero() {
		ts := r.AnalyzedAt.UTC().Format(time.RFC3339)
		rec.AnalyzedAt = &ts
	}
	return rec
}

// String summarizes the result for log output.
func (r *Result) String() string {
	if r.Err != "" {
		return fmt.Sprintf("insecure=%t matches=%v error=%q", r.Insecure, r.InsecurePackages, r.Err)
	}
	return fmt.Sprintf("insecure=%t matches=%v", r.Insecure, r.InsecurePackages)
}
