// Package mastership proxies the controller's exclusive edit and motion locks
// as process-wide reference counts.
//
// Two Managers exist per process, one per Kind, and they never interact.
// Each keeps a holder count: Request on a held lock returns at once, and only
// the 0->1 and 1->0 transitions reach the controller:
//
//	POST /rw/mastership/{edit|motion}/request
//	POST /rw/mastership/{edit|motion}/release
//
// In host mode (SetHost) the transitions are sent to the embedding host
// instead, and complete when the host calls back through
// HandleHostAcknowledgement.
//
// # Failure handling
//
// A failed acquire rolls the count back and fails only the requests that were
// waiting on that acquire. A failed release is logged and the caller still
// succeeds, so teardown never deadlocks on a lost lock.
package mastership
