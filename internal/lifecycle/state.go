// Package lifecycle holds the process-wide cleanup and unloading flags shared by
// the subscription manager, both mastership managers and the controller transport.
//
// One State is created per process and injected into every component that must
// refuse new work once cleanup has begun.
package lifecycle

import "sync/atomic"

// State tracks shutdown progress.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type State struct {
	cleanupStarted atomic.Bool
	unloading      atomic.Bool
}

// New returns a State with no cleanup in progress.
func New() *State {
	return &State{}
}

// BeginCleanup marks cleanup as started. It returns true only for the first caller,
// which then owns the cleanup sequence.
func (s *State) BeginCleanup() bool {
	return s.cleanupStarted.CompareAndSwap(false, true)
}

// CleanupStarted reports whether cleanup has begun.
func (s *State) CleanupStarted() bool {
	return s.cleanupStarted.Load()
}

// MarkUnloading switches outbound requests to keepalive mode.
func (s *State) MarkUnloading() {
	s.unloading.Store(true)
}

// Unloading reports whether the process is tearing down.
func (s *State) Unloading() bool {
	return s.unloading.Load()
}
