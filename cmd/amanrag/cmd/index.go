package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

type indexOptions struct {
	plain   bool
	noColor bool
	format  string
}

// indexReport is the JSON form of an index run.
type indexReport struct {
	*rag.IndexResult
	Embedder string            `json:"embedder,omitempty"`
	Warning  *amerrors.Payload `json:"warning,omitempty"`
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a file or directory, replacing the corpus",
		Long: `Load, chunk and embed a file or directory and publish it as the new
corpus. Supported formats: .txt, .md, .pdf and .json/.jsonl records.

The corpus is saved to the data directory so later commands and
'amanrag serve' pick it up. If the embedding backend is unreachable the
corpus is indexed for keyword search only.`,
		Example: `  amanrag index ./docs
  amanrag index handbook.pdf --plain
  amanrag index ./docs --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output (no TUI)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")

	return cmd
}

func runIndex(cmd *cobra.Command, path string, opts indexOptions) error {
	ctx := cmd.Context()
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return amerrors.New(amerrors.ErrCodeFileNotFound, fmt.Sprintf("path not found: %s", path), err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeService(svc)

	out := output.NewWithFormat(cmd.OutOrStdout(), format)

	// In JSON mode progress would corrupt stdout, so it goes to stderr.
	progressOut := cmd.OutOrStdout()
	if out.JSONMode() {
		progressOut = cmd.ErrOrStderr()
	}
	renderer := ui.NewRenderer(ui.Config{
		Output:     progressOut,
		ForcePlain: opts.plain || out.JSONMode(),
		NoColor:    opts.noColor || ui.DetectNoColor(),
		Root:       path,
	})

	res, indexErr := indexWithRenderer(ctx, svc, path, renderer)
	if indexErr != nil && res == nil {
		return indexErr
	}

	report := indexReport{IndexResult: res, Embedder: svc.Status().Embedder}
	if indexErr != nil {
		p := amerrors.ToPayload(indexErr)
		report.Warning = &p
		slog.Warn("index_not_persisted", slog.String("error", indexErr.Error()))
	}
	if out.JSONMode() {
		return out.JSON(report)
	}
	return nil
}

// indexWithRenderer runs IndexPath with progress shown by r. The renderer
// is always stopped. A result with a non-nil error means the index is live
// but was not persisted.
func indexWithRenderer(ctx context.Context, svc *rag.Service, path string, r ui.Renderer) (*rag.IndexResult, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}

	res, err := svc.IndexPath(ctx, path, rag.WithProgress(ui.ProgressFunc(r)))
	if res != nil {
		stats := ui.StatsFromResult(res, svc.Status().Embedder)
		if err != nil {
			stats.Warning = amerrors.ToPayload(err).Message
		}
		r.Complete(stats)
	}
	if stopErr := r.Stop(); stopErr != nil {
		slog.Debug("renderer_stop_failed", slog.String("error", stopErr.Error()))
	}
	return res, err
}
