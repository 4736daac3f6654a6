package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Show a tenant's lifecycle state",
		Long: `Display a tenant's readiness, whether it can serve queries, and the
outcome of its last export and index build.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			state, err := store.GetState(args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}

			out := ui.New(cmd.OutOrStdout())
			out.Headerf("Tenant %s", state.TenantID)
			out.Field("Readiness", string(state.Readiness))
			out.Field("Queryable", fmt.Sprintf("%t", state.Queryable()))

			if state.LastExport != nil {
				out.Field("Last export", fmt.Sprintf("%s (%s, %s)",
					state.LastExport.Status,
					plural(state.LastExport.PagesExported, "page"),
					state.LastExport.Timestamp.Format("2006-01-02 15:04")))
			} else {
				out.Field("Last export", "never")
			}

			if state.LastIndex != nil {
				out.Field("Last index", fmt.Sprintf("%s (%s, %s)",
					state.LastIndex.Status,
					plural(state.LastIndex.ChunksCreated, "chunk"),
					state.LastIndex.Timestamp.Format("2006-01-02 15:04")))
			} else {
				out.Field("Last index", "never")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
