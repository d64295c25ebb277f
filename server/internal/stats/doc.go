// Package stats is the client side of casewatch-server's operator surface.
// It scrapes the server's Prometheus exposition and folds the coalescing and
// refresh metric families into a Summary, and calls the REST diagnostics
// (pending, health, forced flush). casewatchctl is its only user.
package stats
