// Package cache implements the disk-backed page store: one file per cache key
// under a caller-supplied absolute directory. The store exposes read/write
// primitives with safe semantics (temp file + rename under a per-path lock)
// and reports the file modification time that drives freshness decisions.
// Higher layers (pagecache, dispatch) combine it with IsFresh and the
// conditional responder to serve, revalidate or regenerate pages, while the
// Evictor sweeps entries that outlived the cleanup window.
package cache
