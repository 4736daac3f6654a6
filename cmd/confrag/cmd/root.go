// Package cmd provides the CLI commands for confrag.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/config"
	"github.com/confrag/confrag/internal/logging"
	"github.com/confrag/confrag/internal/profiling"
	"github.com/confrag/confrag/pkg/version"
)

var (
	debugMode      bool
	dataDirFlag    string
	loggingCleanup func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the confrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confrag",
		Short: "Multi-tenant Confluence knowledge retrieval server",
		Long: `confrag exports Confluence spaces to markdown, builds hybrid
(BM25 + vector) search indexes per tenant, and serves retrieval to AI agents
over the Model Context Protocol.

Typical flow:

  confrag create acme ./acme.yaml   Onboard a tenant from a config file
  confrag export acme               Export the tenant's enabled spaces
  confrag index acme                Build the tenant's search index
  confrag query acme "how do I..."  Query the tenant's knowledge base
  confrag serve                     Serve all tenants over MCP stdio`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("confrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.confrag/logs/")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Tenant data directory (default ~/.confrag/data)")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	var err error
	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig loads the app configuration, applying CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}
