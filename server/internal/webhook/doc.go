// Package webhook posts determinate refresh messages (settled tree nodes and
// results windows) to Slack incoming webhooks or plain HTTP endpoints.
//
// Sink.Publish only queues; Sink.Run performs the HTTP calls, so a slow
// endpoint never stalls the coalescing engines. When the queue is full the
// message is dropped and logged.
package webhook
