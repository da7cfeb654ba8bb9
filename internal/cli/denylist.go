package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// denylistCommand creates the "denylist" command.
func (c *CLI) denylistCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "denylist",
		Short: "Print the effective deny-list",
		Long: `Denylist prints every package name currently treated as insecure:
the built-in unsafe set joined with the remote-curated list. If the
remote list cannot be fetched, the built-in set alone is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}

			eng, err := c.newEngine(cfg)
			if err != nil {
				return err
			}

			set := eng.deny.Load(cmd.Context())
			c.Logger.Infof("deny-list holds %d names", set.Len())
			for _, name := range set.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	return cmd
}
