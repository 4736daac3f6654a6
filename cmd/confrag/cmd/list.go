package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

type tenantListEntry struct {
	ID        string `json:"id"`
	Readiness string `json:"readiness"`
	Queryable bool   `json:"queryable"`
}

func newListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all onboarded tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			ids, err := store.List()
			if err != nil {
				return err
			}

			entries := make([]tenantListEntry, 0, len(ids))
			for _, id := range ids {
				entry := tenantListEntry{ID: id}
				if state, err := store.GetState(id); err == nil {
					entry.Readiness = string(state.Readiness)
					entry.Queryable = state.Queryable()
				}
				entries = append(entries, entry)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			out := ui.New(cmd.OutOrStdout())
			if len(entries) == 0 {
				out.Info("no tenants onboarded")
				out.Dim("run: confrag create <tenant-id> <config-file>")
				return nil
			}

			out.Headerf("Tenants (%d)", len(entries))
			for _, entry := range entries {
				marker := " "
				if entry.Queryable {
					marker = "●"
				}
				out.Infof("  %s %-20s %s", marker, entry.ID, entry.Readiness)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
