// Package watcher keeps an indexed corpus in step with the directory it was
// loaded from.
//
// A HybridWatcher reports changes to supported corpus files (fsnotify, with
// polling where fsnotify is unavailable). Changes are debounced into batches
// and a Reindexer applies each batch to the service: deletions of plain
// documents drop their source, anything else re-ingests the directory.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.Options{DebounceWindow: cfg.WatchDebounce()})
//	if err != nil {
//	    return err
//	}
//	r := watcher.NewReindexer(svc, root)
//	go func() { _ = w.Start(ctx, root) }()
//	r.Run(ctx, w.Events())
package watcher
