package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <tenant-id> <config-file>",
		Short: "Onboard a new tenant from a YAML config file",
		Long: `Onboard a new tenant. The config file declares the tenant's Confluence
connection, its spaces, and index settings; it is validated and copied into
the tenant's directory. The tenant starts in the never_built state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			tenantCfg, err := store.Create(args[0], args[1])
			if err != nil {
				return err
			}

			out := ui.New(cmd.OutOrStdout())
			out.Successf("tenant %q created", args[0])
			out.Field("Name", tenantCfg.Name)
			out.Field("Spaces", formatSpaces(tenantCfg))
			out.Field("Strategy", tenantCfg.Index.Strategy)
			out.Dim("next: confrag export " + args[0])
			return nil
		},
	}
}

func formatSpaces(cfg *tenant.Config) string {
	enabled := 0
	for _, s := range cfg.Spaces {
		if s.Enabled {
			enabled++
		}
	}
	if enabled == len(cfg.Spaces) {
		return plural(len(cfg.Spaces), "space")
	}
	return plural(enabled, "enabled space")
}
