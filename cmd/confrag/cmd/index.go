package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/index"
	"github.com/confrag/confrag/internal/tenant"
	"github.com/confrag/confrag/internal/ui"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <tenant-id>",
		Short: "Build a tenant's search index from exported documents",
		Long: `Chunk, embed, and index a tenant's exported markdown pages. A successful
build replaces any previous index atomically; queries keep being served from
the last successful build until then. When no exported documents exist the
previous index is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := tenant.NewStore(cfg.DataDir, slog.Default())
			builder := index.NewBuilder(store, cfg, nil)

			result, err := builder.Build(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := ui.New(cmd.OutOrStdout())
			switch result.Status {
			case tenant.IndexStatusSuccess:
				out.Successf("index built: %s from %s (%.1fs)",
					plural(result.ChunksCreated, "chunk"),
					plural(result.DocumentsIndexed, "page"),
					result.Duration)
				out.Dim("next: confrag query " + args[0] + " \"your question\"")
			case tenant.IndexStatusNoDocuments:
				out.Warning("no exported documents found; previous index untouched")
				out.Dim("run: confrag export " + args[0])
			default:
				out.Errorf("index build failed: %s", result.Error)
			}
			return nil
		},
	}
}
