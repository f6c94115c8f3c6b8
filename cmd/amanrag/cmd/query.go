package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// retrievalFlags are shared by query and ask.
type retrievalFlags struct {
	searchType     string
	limit          int
	minScore       float64
	keywordWeight  float64
	semanticWeight float64
	forceSearch    bool
	format         string
}

func (f *retrievalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.searchType, "type", "t", "hybrid", "Search type: keyword, semantic or hybrid")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Maximum results (default: search.max_results)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", 0, "Drop results scoring below this (default: per search type)")
	cmd.Flags().Float64Var(&f.keywordWeight, "keyword-weight", 0, "Hybrid fusion weight of keyword results")
	cmd.Flags().Float64Var(&f.semanticWeight, "semantic-weight", 0, "Hybrid fusion weight of semantic results")
	cmd.Flags().BoolVar(&f.forceSearch, "force-search", false, "Skip routing and always retrieve")
	cmd.Flags().StringVar(&f.format, "format", "text", "Output format: text or json")
}

// request builds a query request. min-score is only sent when the flag was
// given so the per-type default applies otherwise.
func (f *retrievalFlags) request(cmd *cobra.Command, question string) rag.QueryRequest {
	req := rag.QueryRequest{
		Question:        question,
		MaxResults:      f.limit,
		KeywordWeight:   f.keywordWeight,
		SemanticWeight:  f.semanticWeight,
		SearchType:      search.SearchType(strings.ToLower(f.searchType)),
		ForceSearchMode: f.forceSearch,
	}
	if cmd.Flags().Changed("min-score") {
		ms := f.minScore
		req.MinScore = &ms
	}
	return req
}

func newQueryCmd() *cobra.Command {
	var flags retrievalFlags

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve context for a question",
		Long: `Route the question and, when it needs retrieval, search the corpus
and print the ranked chunks with their sources.`,
		Example: `  amanrag query "how do I rotate the API key?"
  amanrag query "refund policy" --type keyword -n 10
  amanrag query "refund policy" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), &flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runQuery(cmd *cobra.Command, question string, flags *retrievalFlags) error {
	ctx := cmd.Context()
	format, err := output.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer closeService(svc)

	resp, err := svc.Query(ctx, flags.request(cmd, question))
	if err != nil {
		return err
	}
	out := mcp.ToQueryOutput(uuid.NewString(), resp)
	return output.NewWithFormat(cmd.OutOrStdout(), format).
		Result(out, mcp.FormatQueryResults(question, out))
}

func newAskCmd() *cobra.Command {
	var (
		flags   retrievalFlags
		history string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the corpus",
		Long: `Retrieve context for the question and generate an answer with the
configured model. The answer lists the sources it was grounded on.`,
		Example: `  amanrag ask "what is the refund window?"
  amanrag ask "and for digital goods?" --history "Q: what is the refund window? A: 30 days"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), &flags, history)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&history, "history", "", "Prior conversation as plain text")
	return cmd
}

func runAsk(cmd *cobra.Command, question string, flags *retrievalFlags, history string) error {
	ctx := cmd.Context()
	format, err := output.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer closeService(svc)

	resp, err := svc.Ask(ctx, rag.AskRequest{
		QueryRequest: flags.request(cmd, question),
		History:      history,
	})
	if err != nil {
		return err
	}
	out := mcp.ToAskOutput(uuid.NewString(), resp)
	return output.NewWithFormat(cmd.OutOrStdout(), format).Result(out, mcp.FormatAnswer(out))
}

func newClassifyCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "classify <question>",
		Short: "Show how a question would be routed",
		Long: `Print DIRECT when the question can be answered without the corpus and
SEARCH when it needs retrieval, with the router stage that decided.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Routing needs no corpus.
			svc, err := openService(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer closeService(svc)

			d, err := svc.Decide(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := mcp.ClassifyOutput{Route: string(d.Route), Stage: string(d.Stage)}
			return output.NewWithFormat(cmd.OutOrStdout(), f).
				Result(out, fmt.Sprintf("%s (%s stage)", out.Route, out.Stage))
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	return cmd
}
