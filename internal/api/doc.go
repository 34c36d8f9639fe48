// Package api provides the local control API and event relay for the RWS client.
//
// It exposes the client's state (subscription group, mastership counts,
// cleanup progress), lets local tools request and release mastership, answer
// host acknowledgements, trigger cleanup, read the event journal, and relay
// controller events over a WebSocket.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every route except /api/v1/health requires a bearer token minted by
// auth.GenerateToken with the configured secret. WebSocket clients, which
// cannot set headers from a browser, may pass the token as ?token=.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
