// Package watcher provides filesystem event watching used to hot-reload the
// role and team catalog.
//
// The Watcher API is safe for concurrent use and delivers best-effort events:
// changes under a watched path are coalesced per path, so callers should
// treat a callback as a signal to re-read rather than as an exact change log.
package watcher
