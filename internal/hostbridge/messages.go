package hostbridge

import (
	"context"
	"strconv"
)

// Outbound host messages. Payloads are plain strings; the ones carrying an
// argument are built with the helpers below.
const (
	MsgRequestMastership       = "RequestMastership"
	MsgReleaseMastership       = "ReleaseMastership"
	MsgRequestMotionMastership = "RequestMotionMastership"
	MsgReleaseMotionMastership = "ReleaseMotionMastership"

	msgCleanedUp               = "CleanedUp"
	msgDeleteSubscriptionGroup = "DeleteSubscriptionGroup"
)

// Sender delivers outbound control messages to the embedding host.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// CleanedUp builds the completion report sent after an app-initiated cleanup.
func CleanedUp(ok bool) string {
	return msgCleanedUp + " " + strconv.FormatBool(ok)
}

// DeleteSubscriptionGroup asks the host to delete a subscription group on our behalf.
func DeleteSubscriptionGroup(groupID string) string {
	return msgDeleteSubscriptionGroup + " " + groupID
}
