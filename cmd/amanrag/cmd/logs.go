package cmd

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/logging"
)

// followInterval is how often --follow polls the log file.
const followInterval = 250 * time.Millisecond

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View server logs",
		Long: `Show the last lines of the amanrag server log (~/.amanrag/logs/server.log)
as readable text. Use -f to follow new entries like 'tail -f'.`,
		Example: `  amanrag logs
  amanrag logs -n 200 --level warn
  amanrag logs -f --filter "route=DIRECT"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "debug", "Minimum level: debug, info, warn or error")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only show entries matching this regular expression")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Log file (default: ~/.amanrag/logs/server.log)")

	return cmd
}

func runLogs(ctx context.Context, stdout, stderr io.Writer, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}
	match := func(e logging.Entry) bool {
		return pattern == nil || pattern.MatchString(e.Format())
	}

	_, _ = fmt.Fprintf(stderr, "Log file: %s\n---\n", path)

	entries, err := logging.Tail(path, 0, opts.level)
	if err != nil {
		return err
	}
	shown := make([]logging.Entry, 0, len(entries))
	for _, e := range entries {
		if match(e) {
			shown = append(shown, e)
		}
	}
	if opts.lines > 0 && len(shown) > opts.lines {
		shown = shown[len(shown)-opts.lines:]
	}
	logging.Print(stdout, shown)

	if !opts.follow {
		return nil
	}
	_, _ = fmt.Fprintln(stderr, "Following... (Ctrl+C to stop)")
	return logging.Follow(ctx, path, opts.level, followInterval, func(e logging.Entry) {
		if match(e) {
			_, _ = fmt.Fprintln(stdout, e.Format())
		}
	})
}
