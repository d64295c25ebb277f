// Package coalesce turns a high-frequency stream of "something changed" keys
// into rate-limited, de-duplicated notifications for a single consumer.
//
// Two policies share one set of locking and timer scaffolding:
//
//   - FixedDelay (BatchCoordinator): keys accumulate into a pending set. The
//     first key of a window arms one timer; when it fires the whole set is
//     swapped out and handed to Notifier.Handle.
//   - PerKeyDeadline (TimeoutTracker + SweepScheduler): every key carries a
//     renewable deadline. A key seen for the first time is reported at once as
//     provisional (HandleEvents(keys, false)); a key that has not been
//     re-enqueued for a full timeout window is swept and reported as settled
//     (HandleEvents(keys, true)).
//
// Engine wraps either policy behind one API. All timers come from an injected
// github.com/juju/clock Clock, owned per instance and released by Stop.
//
// Notifier calls always run outside the instance lock, on a drained copy of
// the keys, behind a recover boundary: a panicking consumer is logged and
// counted, and later windows are still delivered.
//
// Batches are unordered sets. Nothing is persisted; Stop discards whatever is
// still pending.
package coalesce
