// Package auth enforces the shared API key on the gRPC ingest service and
// the REST API.
//
// A Checker built with mode "apikey" and a non-empty key rejects calls whose
// key header is missing or wrong: codes.Unauthenticated over gRPC, 401 over
// HTTP. Any other mode, or an empty key, lets every call through, which is
// what local development runs with.
package auth
