package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve all tenants over the Model Context Protocol",
		Long: `Run the MCP server on stdio. All onboarded tenants are served from one
process; state changes made by other confrag processes (exports, index
builds) are picked up automatically.

stdout carries JSON-RPC exclusively. Diagnostics go to stderr, or to
~/.confrag/logs/ with --debug.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.Transport != "stdio" {
				return fmt.Errorf("unsupported transport %q: only stdio is supported", cfg.Server.Transport)
			}

			server, err := mcp.NewServer(cfg)
			if err != nil {
				return err
			}
			defer server.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.Serve(ctx)
		},
	}
}
