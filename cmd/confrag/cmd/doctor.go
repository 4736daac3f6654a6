package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confrag/confrag/internal/preflight"
	"github.com/confrag/confrag/internal/ui"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose problems",
		Long: `Run preflight checks: data directory health, disk space, embedding
provider availability, and tenant configuration integrity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			results := preflight.New(cfg).RunAll(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				out := ui.New(cmd.OutOrStdout())
				out.Header("confrag system check")
				for _, r := range results {
					switch r.Status {
					case preflight.StatusPass:
						out.Successf("%s: %s", r.Name, r.Message)
					case preflight.StatusWarn:
						out.Warningf("%s: %s", r.Name, r.Message)
					default:
						out.Errorf("%s: %s", r.Name, r.Message)
					}
					if r.Details != "" {
						out.Dim(r.Details)
					}
				}
				out.Newline()
				out.Infof("status: %s", preflight.SummaryStatus(results))
			}

			if preflight.HasCriticalFailures(results) {
				return fmt.Errorf("system check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
