// Package shutdown runs the ordered, at-most-once cleanup sequence that
// releases both masterships and tears down the subscription group.
//
// Two triggers exist. App- or host-initiated cleanup awaits every step and
// reports the outcome to the host. Unload-initiated cleanup (a signal) runs
// the release and unsubscribe steps in the background; the caller waits on
// Coordinator.Done for as long as it can afford:
//
//	coord.InitiateCleanup(ctx, false)
//	select {
//	case <-coord.Done():
//	case <-time.After(grace):
//	}
package shutdown
