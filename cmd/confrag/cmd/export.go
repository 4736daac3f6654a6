package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/export"
	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <tenant-id> [space-key...]",
		Short: "Export a tenant's Confluence spaces to markdown",
		Long: `Export a tenant's spaces from Confluence. With no space keys, every
enabled space is exported. Each space is exported independently; failures in
one space do not stop the rest of the batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			orchestrator := export.NewOrchestrator(store, export.NewConfluenceExporter())

			result, err := orchestrator.ExportSpaces(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}

			out := ui.New(cmd.OutOrStdout())
			switch result.Status {
			case tenant.ExportStatusSuccess:
				out.Successf("export %s: %s exported from %s (%.1fs)",
					result.Status,
					plural(result.PagesExported, "page"),
					plural(result.SpacesExported, "space"),
					result.Duration)
			case tenant.ExportStatusPartial:
				out.Warningf("export %s: %s exported, %s",
					result.Status,
					plural(result.PagesExported, "page"),
					plural(len(result.Errors), "space failed", "spaces failed"))
			default:
				out.Errorf("export %s: no spaces exported", result.Status)
			}

			for _, spaceErr := range result.Errors {
				out.Dim(spaceErr.SpaceKey + ": " + spaceErr.Error)
			}
			if result.SpacesExported > 0 {
				out.Dim("next: confrag index " + args[0])
			}
			return nil
		},
	}
}
