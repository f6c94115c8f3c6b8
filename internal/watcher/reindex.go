package watcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Indexer is the part of the service a Reindexer drives.
// *rag.Service implements it.
type Indexer interface {
	IndexPath(ctx context.Context, path string, opts ...rag.IndexOption) (*rag.IndexResult, error)
	RemoveSource(ctx context.Context, sourceID string) (int, error)
}

var _ Indexer = (*rag.Service)(nil)

// Reindexer applies watch batches to an Indexer rooted at one directory.
type Reindexer struct {
	indexer Indexer
	root    string

	reindexes atomic.Int64
	removals  atomic.Int64
}

// NewReindexer creates a reindexer for the corpus loaded from root.
func NewReindexer(indexer Indexer, root string) *Reindexer {
	return &Reindexer{indexer: indexer, root: root}
}

// Plan decides how to apply a batch. When every event deletes a plain
// document, those source IDs are returned and full is false. Any other
// change needs the directory re-ingested. Record files are excluded from
// the removal path because a record may name its own source ID.
func Plan(batch []FileEvent) (removals []string, full bool) {
	if len(batch) == 0 {
		return nil, false
	}
	for _, e := range batch {
		if e.Operation != OpDelete || e.IsDir || corpus.FileType(e.Path) == store.FileTypeJSON {
			return nil, true
		}
		removals = append(removals, e.Path)
	}
	return removals, false
}

// Apply applies one batch. Errors are logged; the watch keeps running.
func (r *Reindexer) Apply(ctx context.Context, batch []FileEvent) {
	removals, full := Plan(batch)
	start := time.Now()

	if !full {
		for _, id := range removals {
			n, err := r.indexer.RemoveSource(ctx, id)
			if err != nil {
				slog.Warn("watch_remove_failed",
					slog.String("source_id", id),
					slog.String("error", err.Error()))
				continue
			}
			r.removals.Add(1)
			slog.Info("watch_source_removed",
				slog.String("source_id", id),
				slog.Int("chunks", n))
		}
		return
	}

	res, err := r.indexer.IndexPath(ctx, r.root)
	if err != nil && res == nil {
		slog.Warn("watch_reindex_failed",
			slog.String("root", r.root),
			slog.String("error", err.Error()))
		return
	}
	r.reindexes.Add(1)
	if err != nil {
		slog.Warn("watch_reindex_not_persisted", slog.String("error", err.Error()))
	}
	slog.Info("watch_reindexed",
		slog.String("root", r.root),
		slog.Int("changes", len(batch)),
		slog.Int("chunks", res.Indexed),
		slog.Duration("duration", time.Since(start)))
}

// Run applies batches until the channel closes or ctx is done.
func (r *Reindexer) Run(ctx context.Context, batches <-chan []FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			r.Apply(ctx, batch)
		}
	}
}

// Counts returns how many full reindexes and source removals have run.
func (r *Reindexer) Counts() (reindexes, removals int64) {
	return r.reindexes.Load(), r.removals.Load()
}
