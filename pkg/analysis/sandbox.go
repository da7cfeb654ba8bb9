package analysis

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mlindner/depsentry/pkg/denylist"
)

const (
	// defaultInstallTimeout is the ceiling for one sandboxed install.
	defaultInstallTimeout = 120 * time.Second

	// defaultInstallBin is the package manager executable.
	defaultInstallBin = "npm"
)

// installArgs disable anything the install could execute or phone home
// with: no lifecycle scripts, production-only, no audit or funding
// chatter, no lockfile writes.
var installArgs = []string{"install", "--omit=dev", "--ignore-scripts", "--no-audit", "--no-fund", "--no-save"}

// SandboxConfig tunes a [SandboxScanner]. Zero values use defaults.
type SandboxConfig struct {
	// Dir is the parent directory for sandboxes; "" uses os.TempDir().
	Dir string

	// Bin is the package manager executable (default "npm"). Tests
	// substitute a stub script.
	Bin string

	// Timeout bounds the install subprocess (default 120s).
	Timeout time.Duration

	Logf func(format string, args ...any)
}

// SandboxScanner analyzes the dependency tree a real installer
// resolves: it materializes the package into an ephemeral directory via
// a script-disabled, production-only install and walks every installed
// package name.
//
// The install reflects deduplication and hoisting as the installer sees
// fit, at the price of disk and subprocess latency. Install failures
// and timeouts are recorded on the result, never escalated. The
// sandbox directory is removed on every exit path.
type SandboxScanner struct {
	deny    *denylist.Registry
	dir     string
	bin     string
	timeout time.Duration
	logf    func(string, ...any)
}

// NewSandboxScanner creates a sandboxed-install scanner.
func NewSandboxScanner(deny *denylist.Registry, cfg SandboxConfig) *SandboxScanner {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Bin == "" {
		cfg.Bin = defaultInstallBin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultInstallTimeout
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	return &SandboxScanner{
		deny:    deny,
		dir:     cfg.Dir,
		bin:     cfg.Bin,
		timeout: cfg.Timeout,
		logf:    cfg.Logf,
	}
}

// Scan installs the package into a fresh sandbox and checks every
// installed name against the deny-list.
func (s *SandboxScanner) Scan(ctx context.Context, id Identity) (*Result, error) {
	res := newResult()
	deny := s.deny.Load(ctx)

	// A uuid suffix keeps concurrent scans from ever sharing a sandbox.
	dir := filepath.Join(s.dir, "depsentry-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.Err = "create sandbox: " + err.Error()
		return res, nil
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logf("sandbox cleanup failed: %s: %v", dir, err)
		}
	}()

	if err := writeSandboxManifest(dir, id); err != nil {
		res.Err = "write manifest: " + err.Error()
		return res, nil
	}

	if err := s.install(ctx, dir); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logf("sandbox install failed: %s: %v", id, err)
		res.Err = "install failed: " + err.Error()
		return res, nil
	}

	modules := filepath.Join(dir, "node_modules")
	if _, err := os.Stat(modules); os.IsNotExist(err) {
		return res, nil
	}

	names, err := enumerateInstalled(modules)
	if err != nil {
		res.Err = "enumerate installed packages: " + err.Error()
		return res, nil
	}
	for _, name := range names {
		res.flag(name, deny)
	}
	return res, nil
}

// install runs the package manager under the scan's time ceiling.
func (s *SandboxScanner) install(ctx context.Context, dir string) error {
	ictx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ictx, s.bin, installArgs...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ictx.Err() == context.DeadlineExceeded {
			return context.DeadlineExceeded
		}
		s.logf("install output: %s", strings.TrimSpace(string(out)))
		return err
	}
	return nil
}

// writeSandboxManifest writes a minimal package.json declaring exactly
// the target package at the target version.
func writeSandboxManifest(dir string, id Identity) error {
	manifest := map[string]any{
		"name":         "depsentry-sandbox",
		"version":      "0.0.0",
		"private":      true,
		"dependencies": map[string]string{id.Name: id.Version},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644)
}

// enumerateInstalled walks a node_modules directory and returns every
// installed package name: scoped packages contribute one extra
// directory level, and nested node_modules directories are descended
// at any depth (the installer already bounded the tree).
func enumerateInstalled(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if strings.HasPrefix(entry.Name(), "@") {
			scoped, err := enumerateScope(dir, entry.Name())
			if err != nil {
				return nil, err
			}
			names = append(names, scoped...)
			continue
		}

		names = append(names, entry.Name())
		nested, err := enumerateNested(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		names = append(names, nested...)
	}
	return names, nil
}

// enumerateScope lists packages under one @scope directory.
func enumerateScope(dir, scope string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, scope))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		names = append(names, scope+"/"+entry.Name())
		nested, err := enumerateNested(filepath.Join(dir, scope, entry.Name()))
		if err != nil {
			return nil, err
		}
		names = append(names, nested...)
	}
	return names, nil
}

// enumerateNested descends into a package's own node_modules, if any.
func enumerateNested(pkgDir string) ([]string, error) {
	nested := filepath.Join(pkgDir, "node_modules")
	if _, err := os.Stat(nested); os.IsNotExist(err) {
		return nil, nil
	}
	return enumerateInstalled(nested)
}
