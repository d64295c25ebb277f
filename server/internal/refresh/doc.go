// Package refresh turns a stream of change events into coalesced refresh
// notices for UI clients.
//
// An Aggregator owns two coalescing engines. The tree engine (per-key
// deadline by default) reports each changed tree node twice: as provisional
// the moment it is first seen, so clients can show an indeterminate count,
// and as settled once the node has been quiet for the configured timeout, so
// clients refetch the real count. The results engine (fixed delay by
// default) folds every change in a window into one "results changed"
// notice for listing views.
//
// Notices are fanned out to Sinks (the WebSocket hub, webhooks). A forced
// flush (IngestComplete) delivers everything pending immediately.
package refresh
