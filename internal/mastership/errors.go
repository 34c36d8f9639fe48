package mastership

import "errors"

// Domain-specific errors for mastership operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCleanupStarted is returned when a request arrives after cleanup began.
	ErrCleanupStarted = errors.New("mastership: refused, cleanup started")

	// ErrAcquireFailed wraps the cause of a failed real acquire.
	ErrAcquireFailed = errors.New("mastership: acquire failed")

	// ErrHostRejected is returned when the host acknowledges with success=false.
	ErrHostRejected = errors.New("mastership: host rejected")

	// ErrHostAckTimeout is returned when the host does not acknowledge in time.
	ErrHostAckTimeout = errors.New("mastership: host acknowledgement timed out")

	// ErrHostSend is returned when a message could not be delivered to the host.
	ErrHostSend = errors.New("mastership: host send failed")

	// ErrUnknownKind is returned when parsing an unrecognised mastership kind.
	ErrUnknownKind = errors.New("mastership: unknown kind")
)
