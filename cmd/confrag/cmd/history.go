package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/export"
	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history <tenant-id>",
		Short: "Show a tenant's export history",
		Long:  `List past export batches for a tenant, newest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			orchestrator := export.NewOrchestrator(store, export.NewConfluenceExporter())

			records, err := orchestrator.History(args[0], limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			out := ui.New(cmd.OutOrStdout())
			if len(records) == 0 {
				out.Info("no exports recorded")
				return nil
			}

			out.Headerf("Export history for %s", args[0])
			for _, record := range records {
				line := record.Timestamp.Format("2006-01-02 15:04") + "  " +
					record.Status + "  " +
					plural(record.PagesExported, "page")
				if len(record.Errors) > 0 {
					line += "  (" + plural(len(record.Errors), "error") + ")"
				}
				out.Info("  " + line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of records to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
