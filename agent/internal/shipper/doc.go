// Package shipper sends change-event batches to casewatch-server over the
// casewatch.v1.Ingest gRPC service.
//
// Shipper.Ship() is non-blocking: events are split into requests of at most
// maxBatchEvents, stamped with a batch id, and placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest entry is
// evicted. Shipper.Complete() queues an IngestComplete marker behind them, so
// the server flushes only after everything shipped before it arrived.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s to 60s, ±25% jitter) on connection or send errors.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument)
// discard the request immediately rather than retrying.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
package shipper
