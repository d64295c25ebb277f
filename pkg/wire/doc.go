// Package wire is the gRPC contract between change-event producers and
// casewatch-server: the casewatch.v1.Ingest service, its request and
// response messages, and a client.
//
// Messages are plain Go structs carried with a JSON codec registered under
// the "json" content-subtype, so no generated stubs are involved. Both sides
// must import this package for the codec to be registered.
package wire
