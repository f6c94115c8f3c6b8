package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
)

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <source-id>...",
		Short: "Remove sources from the corpus",
		Long: `Drop every chunk of the given sources and rebuild the index. Source IDs
are the paths shown by 'amanrag query', relative to the indexed directory.`,
		Example: `  amanrag remove guides/setup.md`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := openService(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer closeService(svc)

			out := output.New(cmd.OutOrStdout())
			for _, id := range args {
				n, err := svc.RemoveSource(ctx, id)
				if err != nil {
					return err
				}
				if n == 0 {
					out.Warningf("%s: not in the corpus", id)
					continue
				}
				out.Successf("Removed %d chunks of %s", n, id)
			}
			return nil
		},
	}
	return cmd
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if !yes && !confirm(cmd, "Delete the whole corpus?") {
				out.Status("", "Aborted.")
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := openService(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer closeService(svc)

			if err := svc.Clear(cmd.Context()); err != nil {
				return err
			}
			out.Success("Corpus cleared")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// confirm asks a yes/no question on the command's stdin.
func confirm(cmd *cobra.Command, prompt string) bool {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
