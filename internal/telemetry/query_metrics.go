// Package telemetry provides query telemetry for the retrieval pipeline:
// in-memory aggregates persisted to the local SQLite database, and
// Prometheus collectors for the HTTP /metrics endpoint.
// All telemetry data is stored locally - no external reporting.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Events
// =============================================================================

// QueryEvent is a single retrieval recorded by the search coordinator.
type QueryEvent struct {
	Query       string
	SearchType  string // keyword, semantic, hybrid
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// RouteEvent is a single router decision.
type RouteEvent struct {
	Route string // DIRECT or SEARCH
	Stage string // pattern, model, cache, default
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms returns the distinct query terms worth tracking. It uses the
// index tokenizer so CJK questions contribute per-ideograph terms; Latin
// terms shorter than three bytes are dropped.
func ExtractTerms(query string) []string {
	var terms []string
	for _, tok := range store.UniqueTerms(store.Tokenize(query)) {
		if len(tok) < 3 && isASCII(tok) {
			continue
		}
		terms = append(terms, tok)
	}
	return terms
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable snapshot of query metrics.
type QueryMetricsSnapshot struct {
	SearchTypeCounts    map[string]int64        `json:"search_type_counts"`
	RouteCounts         map[string]int64        `json:"route_counts"`
	RouteStageCounts    map[string]int64        `json:"route_stage_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// DirectRate returns the share of routed questions answered without retrieval.
func (s *QueryMetricsSnapshot) DirectRate() float64 {
	var total int64
	for _, n := range s.RouteCounts {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(s.RouteCounts["DIRECT"]) / float64(total)
}

// =============================================================================
// Query Metrics Store (Interface)
// =============================================================================

// QueryMetricsStore defines persistence operations for query metrics.
// Count maps passed to Save* methods are increments, not totals.
type QueryMetricsStore interface {
	SaveSearchTypeCounts(ctx context.Context, date string, counts map[string]int64) error
	GetSearchTypeCounts(ctx context.Context, from, to string) (map[string]int64, error)
	SaveRouteCounts(ctx context.Context, date string, counts map[string]int64) error
	GetRouteCounts(ctx context.Context, from, to string) (map[string]int64, error)
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error
	GetTopTerms(ctx context.Context, limit int) ([]TermCount, error)
	AddZeroResultQuery(ctx context.Context, query string, timestamp time.Time) error
	GetZeroResultQueries(ctx context.Context, limit int) ([]string, error)
	SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // Max terms to track (default: 100)
	ZeroResultsCapacity   int           // Max zero-result queries to keep (default: 100)
	RecentQueriesCapacity int           // Max query hashes for repeat detection (default: 500)
	FlushInterval         time.Duration // 0 = no auto-flush
}

// DefaultQueryMetricsConfig returns sensible defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// pendingCounts holds increments not yet written to the store.
type pendingCounts struct {
	searchTypes map[string]int64
	routes      map[string]int64
	terms       map[string]int64
	latencies   map[LatencyBucket]int64
	zeroResults []QueryEvent
}

func newPendingCounts() pendingCounts {
	return pendingCounts{
		searchTypes: make(map[string]int64),
		routes:      make(map[string]int64),
		terms:       make(map[string]int64),
		latencies:   make(map[LatencyBucket]int64),
	}
}

// QueryMetrics collects query telemetry. Thread-safe for concurrent access.
type QueryMetrics struct {
	mu sync.Mutex

	searchTypes      map[string]int64
	routes           map[string]int64
	routeStages      map[string]int64
	topTerms         *lru.Cache[string, int64]
	zeroResults      *CircularBuffer[string]
	latencies        map[LatencyBucket]int64
	recentQueries    *lru.Cache[string, struct{}]
	totalQueries     int64
	zeroResultCount  int64
	exactRepeatCount int64
	startTime        time.Time

	pending pendingCounts

	prom        *Metrics
	store       QueryMetricsStore
	config      QueryMetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with default configuration.
// If store is nil, metrics are only kept in memory.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		searchTypes:   make(map[string]int64),
		routes:        make(map[string]int64),
		routeStages:   make(map[string]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		pending:       newPendingCounts(),
		store:         store,
		config:        cfg,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

// WithPrometheus mirrors every recorded event into the given collectors.
func (m *QueryMetrics) WithPrometheus(p *Metrics) *QueryMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prom = p
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			if err := m.Flush(context.Background()); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record captures metrics from a retrieval. Non-blocking.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.searchTypes[event.SearchType]++
	m.pending.searchTypes[event.SearchType]++
	m.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pending.terms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		m.pending.zeroResults = append(m.pending.zeroResults, event)
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pending.latencies[bucket]++

	queryHash := hashQuery(event.Query)
	if _, exists := m.recentQueries.Get(queryHash); exists {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(queryHash, struct{}{})

	if m.prom != nil {
		m.prom.ObserveSearch(event.SearchType, event.ResultCount, event.Latency)
	}
}

// RecordRoute captures a router decision.
func (m *QueryMetrics) RecordRoute(event RouteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.routes[event.Route]++
	m.routeStages[event.Stage]++
	m.pending.routes[event.Route]++

	if m.prom != nil {
		m.prom.ObserveRoute(event.Route, event.Stage)
	}
}

func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns current metrics for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *QueryMetrics) snapshotLocked() *QueryMetricsSnapshot {
	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(topTerms, func(a, b TermCount) int {
		switch {
		case a.Count > b.Count:
			return -1
		case a.Count < b.Count:
			return 1
		default:
			return strings.Compare(a.Term, b.Term)
		}
	})

	return &QueryMetricsSnapshot{
		SearchTypeCounts:    maps.Clone(m.searchTypes),
		RouteCounts:         maps.Clone(m.routes),
		RouteStageCounts:    maps.Clone(m.routeStages),
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ExactRepeatCount:    m.exactRepeatCount,
		Since:               m.startTime,
	}
}

// Flush writes the increments recorded since the last flush to the store.
// Safe to call when no store is configured. On failure the increments are
// kept for the next attempt.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.pending
	m.pending = newPendingCounts()
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	err := m.writeBatch(ctx, today, &batch)
	if err != nil {
		m.mu.Lock()
		m.pending.merge(batch)
		m.mu.Unlock()
	}
	return err
}

// writeBatch clears each part of batch once it is stored, so a partial
// failure leaves only the unwritten remainder.
func (m *QueryMetrics) writeBatch(ctx context.Context, date string, batch *pendingCounts) error {
	if len(batch.searchTypes) > 0 {
		if err := m.store.SaveSearchTypeCounts(ctx, date, batch.searchTypes); err != nil {
			return err
		}
		batch.searchTypes = map[string]int64{}
	}
	if len(batch.routes) > 0 {
		if err := m.store.SaveRouteCounts(ctx, date, batch.routes); err != nil {
			return err
		}
		batch.routes = map[string]int64{}
	}
	if len(batch.terms) > 0 {
		if err := m.store.UpsertTermCounts(ctx, batch.terms); err != nil {
			return err
		}
		batch.terms = map[string]int64{}
	}
	if len(batch.latencies) > 0 {
		if err := m.store.SaveLatencyCounts(ctx, date, batch.latencies); err != nil {
			return err
		}
		batch.latencies = map[LatencyBucket]int64{}
	}
	for len(batch.zeroResults) > 0 {
		ev := batch.zeroResults[0]
		if err := m.store.AddZeroResultQuery(ctx, ev.Query, ev.Timestamp); err != nil {
			return err
		}
		batch.zeroResults = batch.zeroResults[1:]
	}
	return nil
}

func (p *pendingCounts) merge(other pendingCounts) {
	for k, v := range other.searchTypes {
		p.searchTypes[k] += v
	}
	for k, v := range other.routes {
		p.routes[k] += v
	}
	for k, v := range other.terms {
		p.terms[k] += v
	}
	for k, v := range other.latencies {
		p.latencies[k] += v
	}
	p.zeroResults = append(other.zeroResults, p.zeroResults...)
}

// Close stops the flush loop and performs a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush(context.Background())
}
