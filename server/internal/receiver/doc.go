// Package receiver implements wire.IngestServer, the gRPC endpoint that
// accepts change-event batches from casewatch-agent instances and other
// producers.
//
// Enqueue rejects empty batches and malformed events with
// codes.InvalidArgument, records the batch in the producer store and hands
// the events to the refresh aggregator. IngestComplete forces the
// aggregator to flush. Authentication is enforced upstream by the server
// interceptor (see package auth).
package receiver
