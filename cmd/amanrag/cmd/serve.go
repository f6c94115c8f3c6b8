package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/httpapi"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

// defaultHTTPAddr is used when neither --addr nor server.http_addr is set.
const defaultHTTPAddr = "127.0.0.1:7420"

type serveOptions struct {
	transport string
	addr      string
	watchDir  string
	logFile   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the corpus over MCP (stdio) or HTTP",
		Long: `Start the amanrag server.

With the stdio transport (default) an MCP client talks JSON-RPC over
stdin/stdout. Nothing else is written to stdout; logs go to
~/.amanrag/logs/server.log.

With the HTTP transport the REST API, the MCP streamable transport (/mcp)
and Prometheus metrics are served on one listener.

--watch indexes a directory at startup and re-indexes it as files change.

Paths submitted to POST /v1/index and the MCP index tool must lie under
corpus.root, or under the --watch directory when no root is configured.
Without either, remote indexing is refused.`,
		Example: `  # MCP over stdio (for Claude Desktop, Cursor, ...)
  amanrag serve

  # HTTP API on a custom loopback port, following a docs folder
  amanrag serve --transport http --addr 127.0.0.1:8080 --watch ./docs`,
		Annotations: map[string]string{loggingAnnotation: loggingServer},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "stdio or http (default: server.transport)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (default: server.http_addr or "+defaultHTTPAddr+")")
	cmd.Flags().StringVar(&opts.watchDir, "watch", "", "Index this directory and re-index it on change")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "Server log file (default: ~/.amanrag/logs/server.log)")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	transport, addr, err := resolveTransport(cfg, opts)
	if err != nil {
		return err
	}

	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupServerMode(level, opts.logFile)
	if err != nil {
		return fmt.Errorf("failed to setup server logging: %w", err)
	}
	defer cleanup()

	var prom *telemetry.Metrics
	if transport == "http" && cfg.Telemetry.Enabled {
		prom = telemetry.NewMetrics()
	}

	svc, err := openService(ctx, cfg, true, rag.WithPrometheus(prom))
	if err != nil {
		slog.Error("service_start_failed", slog.String("error", err.Error()))
		return err
	}
	defer closeService(svc)

	root := corpusRoot(cfg, opts)
	if root == "" {
		slog.Info("remote_indexing_disabled")
	} else {
		slog.Info("corpus_root", slog.String("root", root))
	}

	server, err := mcp.NewServer(svc, mcp.WithCorpusRoot(root))
	if err != nil {
		return err
	}

	// The watcher stops with the server, including a clean stdio EOF.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if opts.watchDir != "" {
		if err := watchCorpus(ctx, g, svc, opts.watchDir, cfg.WatchDebounce()); err != nil {
			return err
		}
	}

	g.Go(func() error {
		defer cancel()
		if transport != "http" {
			return server.Serve(ctx)
		}
		api, err := httpapi.New(svc, httpapi.Options{
			Metrics:     prom,
			MetricsPath: cfg.Telemetry.MetricsPath,
			MCP:         server.HTTPHandler(),
			CorpusRoot:  root,
		})
		if err != nil {
			return err
		}
		return api.ListenAndServe(ctx, addr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveTransport applies flag overrides to the configured transport.
func resolveTransport(cfg *config.Config, opts serveOptions) (transport, addr string, err error) {
	transport = strings.ToLower(cfg.Server.Transport)
	if opts.transport != "" {
		transport = strings.ToLower(opts.transport)
	}
	switch transport {
	case "", "stdio":
		transport = "stdio"
	case "http":
	default:
		return "", "", fmt.Errorf("unknown transport %q (use stdio or http)", opts.transport)
	}

	addr = cfg.Server.HTTPAddr
	if opts.addr != "" {
		addr = opts.addr
	}
	if addr == "" {
		addr = defaultHTTPAddr
	}
	return transport, addr, nil
}

// corpusRoot picks the directory remote index requests are confined to:
// corpus.root when set, otherwise the watched directory.
func corpusRoot(cfg *config.Config, opts serveOptions) string {
	if cfg.Corpus.Root != "" {
		return cfg.Corpus.Root
	}
	return opts.watchDir
}

// watchCorpus indexes dir, then keeps it in sync for the life of g.
func watchCorpus(ctx context.Context, g *errgroup.Group, svc *rag.Service, dir string, debounce time.Duration) error {
	res, err := svc.IndexPath(ctx, dir)
	if err != nil && res == nil {
		return fmt.Errorf("initial index of %s: %w", dir, err)
	}
	if err != nil {
		slog.Warn("watch_initial_index_not_persisted", slog.String("error", err.Error()))
	}

	w, err := watcher.NewHybridWatcher(watcher.Options{DebounceWindow: debounce})
	if err != nil {
		return err
	}
	reindexer := watcher.NewReindexer(svc, dir)

	g.Go(func() error {
		if err := w.Start(ctx, dir); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reindexer.Run(ctx, w.Events())
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-w.Errors():
				if !ok {
					return nil
				}
				slog.Warn("watch_error", slog.String("error", err.Error()))
			}
		}
	})
	return nil
}
