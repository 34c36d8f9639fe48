// Package subscription multiplexes controller change notifications over a
// single WebSocket.
//
// The Manager owns one server-side subscription group: it is created lazily
// on the first Subscribe (POST /subscription, then a socket dial using the
// "rws_subscription" sub-protocol), extended with PUT for new resources, and
// shrunk with per-resource DELETEs. When the last resource is removed the
// socket is closed and the next Subscribe starts a fresh group.
//
// Several Subscribables may share one resource string; the controller only
// sees it once and every subscriber receives each event.
//
// # Ordering
//
// Subscribe and Unsubscribe are serialised through an OperationQueue, so two
// callers can never race to create a group. Calls that add no new resource
// string still wait their turn but make no network request.
//
// # Frames
//
// Notification frames are XHTML. Every <li> is one event: the resource string
// comes from its first anchor href and the fields from its <span class="...">
// children. RAPID symbol paths gain a ";value" suffix and elog paths are cut
// back to their domain so they match what was registered.
//
// Usage:
//
//	mgr := subscription.NewManager(subscription.Config{}, client, life)
//	mgr.SetLogger(log)
//
//	if err := mgr.Subscribe(ctx, []subscription.Subscribable{sig}, nil); err != nil {
//	    return err
//	}
//	defer mgr.Unsubscribe(ctx, []subscription.Subscribable{sig})
package subscription
