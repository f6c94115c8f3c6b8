// Package router decides whether a question needs retrieval at all.
//
// Routing is two-stage and short-circuiting: a fixed battery of regular
// expressions catches greetings and questions about the assistant itself
// (DIRECT, no external call), and everything else is put to a
// classification oracle. Any doubt resolves to SEARCH.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Route is the routing decision.
type Route string

const (
	// RouteDirect answers from the model alone; retrieval is skipped.
	RouteDirect Route = "DIRECT"
	// RouteSearch runs retrieval before answering.
	RouteSearch Route = "SEARCH"
)

// Stage identifies which part of the router produced a decision.
type Stage string

const (
	StagePattern Stage = "pattern"
	StageModel   Stage = "model"
	StageCache   Stage = "cache"
	StageDefault Stage = "default"
)

// Default router configuration values.
const (
	DefaultCacheSize = 1000
	DefaultTimeout   = 5 * time.Second
)

// ClassificationOracle sends a prompt to a model and returns its raw reply.
type ClassificationOracle interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a function to ClassificationOracle.
type OracleFunc func(ctx context.Context, prompt string) (string, error)

// Classify calls f.
func (f OracleFunc) Classify(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Decision is a routing outcome with its provenance.
type Decision struct {
	Route Route  `json:"route"`
	Stage Stage  `json:"stage"`
	Raw   string `json:"raw,omitempty"` // model reply, model stage only
}

// Config configures the router.
type Config struct {
	// CacheSize bounds the model-stage decision cache. Negative disables it.
	CacheSize int

	// Timeout bounds one classification call (default: 5s).
	Timeout time.Duration

	// DisableModel skips the model stage; non-pattern questions go to SEARCH.
	DisableModel bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize: DefaultCacheSize,
		Timeout:   DefaultTimeout,
	}
}

// Router implements the two-stage DIRECT/SEARCH decision.
type Router struct {
	oracle  ClassificationOracle
	config  Config
	cache   *lru.Cache[string, Decision]
	metrics *telemetry.QueryMetrics
}

// Option configures the router.
type Option func(*Router)

// WithMetrics records every decision into the query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New creates a router. A nil oracle leaves only the pattern stage; every
// other question routes to SEARCH.
func New(oracle ClassificationOracle, cfg Config, opts ...Option) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	r := &Router{oracle: oracle, config: cfg}
	if cfg.CacheSize > 0 {
		r.cache, _ = lru.New[string, Decision](cfg.CacheSize)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify returns just the route for question.
func (r *Router) Classify(ctx context.Context, question string) Route {
	return r.Decide(ctx, question).Route
}

// Decide routes question. It never fails: oracle errors and unrecognizable
// replies resolve to SEARCH.
func (r *Router) Decide(ctx context.Context, question string) Decision {
	d := r.decide(ctx, question)
	if r.metrics != nil {
		r.metrics.RecordRoute(telemetry.RouteEvent{Route: string(d.Route), Stage: string(d.Stage)})
	}
	slog.Debug("route_decided",
		slog.String("route", string(d.Route)),
		slog.String("stage", string(d.Stage)))
	return d
}

func (r *Router) decide(ctx context.Context, question string) Decision {
	if _, ok := matchPatterns(question); ok {
		return Decision{Route: RouteDirect, Stage: StagePattern}
	}

	key := strings.TrimSpace(question)
	if key == "" || r.oracle == nil || r.config.DisableModel {
		return Decision{Route: RouteSearch, Stage: StageDefault}
	}

	if r.cache != nil {
		if d, ok := r.cache.Get(key); ok {
			d.Stage = StageCache
			return d
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	raw, err := r.oracle.Classify(callCtx, BuildClassificationPrompt(key))
	if err != nil {
		slog.Warn("route_classification_failed",
			slog.String("error", err.Error()))
		return Decision{Route: RouteSearch, Stage: StageDefault}
	}

	route, recognized := ParseRoute(raw)
	d := Decision{Route: route, Stage: StageModel, Raw: raw}
	if !recognized {
		slog.Warn("route_reply_unrecognized",
			slog.String("reply", truncate(raw, 80)))
		d.Stage = StageDefault
		return d
	}

	if r.cache != nil {
		r.cache.Add(key, d)
	}
	return d
}

// ParseRoute maps a free-text model reply onto the closed route set.
// The reply is upper-cased and searched for the two keywords.
// A reply containing both DIRECT and SEARCH resolves to SEARCH (recognized).
// A reply containing neither also resolves to SEARCH, with recognized false.
func ParseRoute(reply string) (route Route, recognized bool) {
	upper := strings.ToUpper(reply)
	hasDirect := strings.Contains(upper, string(RouteDirect))
	hasSearch := strings.Contains(upper, string(RouteSearch))

	switch {
	case hasSearch:
		return RouteSearch, true
	case hasDirect:
		return RouteDirect, true
	default:
		return RouteSearch, false
	}
}

const classificationPrompt = `You decide whether a question needs the knowledge base.

Reply DIRECT if the question is small talk, a greeting, about you as an assistant, or general knowledge that needs no documents.
Reply SEARCH if the question asks about documents, uploaded files, reports, data, policies or any specific facts that may be in the knowledge base.
If unsure, reply SEARCH.

Respond with ONLY one word: DIRECT or SEARCH.

Question: %s

Decision:`

// BuildClassificationPrompt wraps question in the routing instruction.
func BuildClassificationPrompt(question string) string {
	return fmt.Sprintf(classificationPrompt, question)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
