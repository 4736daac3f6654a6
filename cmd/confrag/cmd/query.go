package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/mcp"
	"github.com/confrag/confrag/internal/retrieval"
	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

func newQueryCmd() *cobra.Command {
	var topK int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query <tenant-id> <question>",
		Short: "Query a tenant's knowledge base",
		Long: `Run a hybrid (keyword + semantic) search against a tenant's index and
print the most relevant documents. The tenant must be queryable; check with
'confrag status'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			svc, err := retrieval.NewService(store, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			result := svc.Query(cmd.Context(), args[0], args[1], topK)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			out := ui.New(cmd.OutOrStdout())
			out.Markdown(mcp.FormatQueryResult(result))
			if result.Status == tenant.QueryStatusError {
				return fmt.Errorf("query failed")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", retrieval.DefaultTopK, "Number of documents to return (max 20)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
