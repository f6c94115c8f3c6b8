// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Commands annotated with loggingAnnotation: loggingServer install their own
// file-only logger.
const (
	loggingAnnotation = "logging"
	loggingServer     = "server"
)

// Global flags.
var (
	debugMode   bool
	configDir   string
	profileOpts profiling.Options

	session        *profiling.Session
	loggingCleanup func()
)

// serviceOptions are appended to every service build. Tests use it to
// inject fakes.
var serviceOptions []rag.BuildOption

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Question answering over a local document corpus",
		Long: `amanrag indexes text, markdown, PDF and JSON documents and answers
questions over them with hybrid keyword + semantic retrieval.

Questions that need no retrieval are routed straight to the model.
Serve the corpus to MCP clients with 'amanrag serve', or query it
directly from the terminal.`,
		Version:           version.Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: startProfilingAndLogging,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return stopProfilingAndLogging()
		},
	}
	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amanrag/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding .amanrag.yaml and .env (default: project root)")
	cmd.PersistentFlags().StringVar(&profileOpts.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.HeapPath, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM and prints the error, if any, to stderr.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when RunE fails.
	if stopErr := stopProfilingAndLogging(); err == nil {
		err = stopErr
	}
	if err != nil {
		printError(root, err)
	}
	return err
}

func printError(cmd *cobra.Command, err error) {
	if _, ok := amerrors.As(err); ok {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), amerrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}

func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[loggingAnnotation] != loggingServer {
		cleanup, err := logging.SetupCLI(debugMode)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		loggingCleanup = cleanup
		if debugMode {
			slog.Info("debug_logging_enabled",
				slog.String("log_file", logging.DefaultLogPath()),
				slog.String("version", version.Version))
		}
	}

	s, err := profiling.Start(profileOpts)
	if err != nil {
		return err
	}
	session = s
	return nil
}

func stopProfilingAndLogging() error {
	var errs []error
	if session != nil {
		if err := session.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to write profiles: %w", err))
		}
		session = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return errors.Join(errs...)
}

// loadConfig loads configuration from --config-dir, or from the project
// root above the working directory.
func loadConfig() (*config.Config, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "failed to load configuration", err).
			WithSuggestion("Check .amanrag.yaml and AMANRAG_* variables, or run 'amanrag config show'")
	}
	return cfg, nil
}

// openService builds the service. With restore set, the persisted corpus is
// loaded so queries see the last index.
func openService(ctx context.Context, cfg *config.Config, restore bool, opts ...rag.BuildOption) (*rag.Service, error) {
	svc, err := rag.NewFromConfig(ctx, cfg, slices.Concat(opts, serviceOptions)...)
	if err != nil {
		return nil, err
	}
	if restore {
		if _, err := svc.LoadPersisted(ctx); err != nil {
			_ = svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

func closeService(svc *rag.Service) {
	if err := svc.Close(); err != nil {
		slog.Warn("service_close_failed", slog.String("error", err.Error()))
	}
}
