// Package watch turns raw filesystem notifications into a clean stream of
// change batches. The Normalizer wraps fsnotify, resolves every event to a
// path relative to the served root, and collapses native duplicates; the
// Coalescer absorbs bursts of rapid changes (a build tool rewriting many
// files within milliseconds) into discrete settled batches so that connected
// clients reload once per build instead of once per file.
package watch
