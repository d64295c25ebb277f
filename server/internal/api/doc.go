// Package api implements the casewatch-server REST API under /api/v1/.
//
//	POST /api/v1/events           enqueue a batch of change events
//	POST /api/v1/ingest-complete  flush every pending refresh now
//	GET  /api/v1/pending          keys not yet delivered as final
//	GET  /api/v1/health           engine occupancy and connected clients
//	GET  /api/v1/producers        producers seen within the TTL
//
// Every response is JSON; errors are {"error": "..."} with 400 or 405.
// Authentication is applied by the caller (auth.Checker.Middleware).
package api
