// Package ws implements the WebSocket hub that pushes refresh notices to UI
// clients at GET /ws/stream.
//
// The Hub is a refresh.Sink: every tree or results message published by the
// aggregator is encoded once and queued to each connected client. A client
// receives the current pending snapshot as soon as it connects, and again
// every interval while keys are pending, so a client that missed a
// provisional message still converges. A client whose send buffer is full is
// disconnected rather than allowed to block the publisher.
package ws
