// Package cli implements the depsentry command-line interface.
//
// Commands scan published npm packages for known-insecure dependencies
// (scan), inspect the effective deny-list (denylist), and print build
// information. Logging uses charmbracelet/log; --verbose (-v) switches
// to debug level.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mlindner/depsentry/pkg/analysis"
	"github.com/mlindner/depsentry/pkg/buildinfo"
	"github.com/mlindner/depsentry/pkg/denylist"
	"github.com/mlindner/depsentry/pkg/httputil"
	"github.com/mlindner/depsentry/pkg/registry"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "depsentry",
		Short:        "Depsentry flags npm packages with insecure dependencies",
		Long:         `Depsentry analyzes a published npm package and its declared dependencies against a curated deny-list of insecure and heavyweight packages, producing a verdict suitable for catalog persistence.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.AddCommand(c.scanCommand())
	root.AddCommand(c.denylistCommand())

	return root
}

// engine bundles the wired analysis components for one invocation.
type engine struct {
	scanner analysis.Scanner
	cache   *analysis.Cache
	deny    *denylist.Registry
}

// newEngine wires fetch client, registry client, deny-list and the
// configured scan strategy into a memoized scanner.
func (c *CLI) newEngine(cfg Config) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logf := c.Logger.Debugf

	fetch := httputil.NewClient(httputil.Config{
		Timeout:      cfg.fetchTimeout(),
		MaxRetries:   cfg.MaxRetries,
		PrimaryLimit: cfg.PrimaryLimit,
		Logf:         logf,
	}, nil)

	deny := denylist.NewRegistry(fetch, cfg.DenylistURL, c.Logger.Warnf)

	var scanner analysis.Scanner
	switch cfg.Strategy {
	case StrategySandbox:
		scanner = analysis.NewSandboxScanner(deny, analysis.SandboxConfig{
			Dir:     cfg.SandboxDir,
			Bin:     cfg.InstallBin,
			Timeout: cfg.installTimeout(),
			Logf:    logf,
		})
	default:
		source := registry.NewClient(fetch, cfg.RegistryURL, cfg.MirrorURL)
		scanner = analysis.NewGraphScanner(source, deny, analysis.GraphConfig{
			MaxDepth:  cfg.MaxDepth,
			BatchSize: cfg.BatchSize,
			Logf:      logf,
		})
	}

	cache := analysis.NewCache()
	return &engine{
		scanner: analysis.Memoized(scanner, cache),
		cache:   cache,
		deny:    deny,
	}, nil
}
