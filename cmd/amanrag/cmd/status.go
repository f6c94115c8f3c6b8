package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and backend status",
		Long: `Show the persisted corpus, the semantic and generation backends and
query telemetry. No network calls are made.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := openService(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer closeService(svc)

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			if jsonOutput {
				return r.RenderJSON(svc.Status())
			}
			return r.Render(svc.Status())
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}
