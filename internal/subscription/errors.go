package subscription

import "errors"

// Domain-specific errors for subscription operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCleanupStarted is returned when a subscribe arrives after cleanup began.
	ErrCleanupStarted = errors.New("subscription: refused, cleanup started")

	// ErrNotSubscribed is returned when unsubscribing something never subscribed.
	ErrNotSubscribed = errors.New("subscription: not subscribed")

	// ErrSocketNotOpen is returned when unsubscribing without an open socket.
	ErrSocketNotOpen = errors.New("subscription: socket not open")

	// ErrGroupCreation is returned when the subscription group could not be created.
	ErrGroupCreation = errors.New("subscription: group creation failed")

	// ErrGroupLost is returned when the socket closed while resources were
	// being registered. Nothing was registered; subscribing again creates a
	// fresh group.
	ErrGroupLost = errors.New("subscription: group lost during registration")

	// ErrStartupTimeout is returned when the socket did not open in time.
	ErrStartupTimeout = errors.New("subscription: socket startup timed out")

	// ErrInvalidLocation is returned when the group Location header is unusable.
	ErrInvalidLocation = errors.New("subscription: invalid group location")

	// ErrMalformedFrame is returned when an inbound frame cannot be parsed.
	ErrMalformedFrame = errors.New("subscription: malformed frame")
)
