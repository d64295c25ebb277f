// Package security inspects the TLS certificates the agent depends on: its
// own mTLS client certificate and the one the server presents. The agent
// logs the result at start-up so an expiring certificate is noticed before
// shipping stops.
package security
