// Package integration holds end-to-end tests that drive the retrieval
// service through the corpus loader, the file watcher and persistence.
package integration
