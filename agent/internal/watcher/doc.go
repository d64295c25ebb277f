// Package watcher turns filesystem activity under the configured evidence
// directories into types.ChangeEvent batches.
//
// Every create, write, remove or rename is mapped to the watch whose path is
// the longest prefix of the changed file, then accumulated in a
// coalesce.BatchCoordinator for ship_delay. When the window closes the unique
// (watch, file) pairs are converted into change events and handed to the
// Emit function, normally shipper.Ship.
package watcher
