// Package store keeps the registry of change-event producers: which agents
// and REST clients have sent batches, how much, and when last. Producers
// that stay silent longer than the TTL are evicted by Run.
package store
