// Package types defines the domain records shared by the agent and server:
// the keys change events are coalesced on, the JSON change-event record
// producers send, and the tree refresh notices sent to UI clients.
package types
