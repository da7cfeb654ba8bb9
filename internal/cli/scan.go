package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlindner/depsentry/pkg/analysis"
)

// scanCommand creates the "scan" command.
func (c *CLI) scanCommand() *cobra.Command {
	var (
		configPath string
		strategy   string
	)

	cmd := &cobra.Command{
		Use:   "scan <name@version> [name@version ...]",
		Short: "Analyze packages for insecure dependencies",
		Long: `Scan fetches each package's dependency information and checks every
encountered package name against the deny-list. The verdict is printed
as the JSON record persisted alongside a catalog entry.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if strategy != "" {
				cfg.Strategy = strategy
			}

			eng, err := c.newEngine(cfg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			for _, arg := range args {
				id, err := analysis.ParseIdentity(arg)
				if err != nil {
					return err
				}

				start := time.Now()
				res, err := eng.scanner.Scan(cmd.Context(), id)
				if err != nil {
					return err
				}
				c.Logger.Infof("scanned %s: %s (%s)", id, res, time.Since(start).Round(time.Millisecond))

				if err := enc.Encode(struct {
					Package string `json:"package"`
					analysis.Record
				}{Package: id.Key(), Record: res.Record()}); err != nil {
					return err
				}
			}
			c.Logger.Debugf("analysis cache holds %d entries", eng.cache.Size())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "",
		fmt.Sprintf("scan strategy (%q or %q)", StrategyMetadata, StrategySandbox))

	return cmd
}
