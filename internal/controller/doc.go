// Package controller is the HTTP transport to the robot controller service.
//
// It issues requests against the controller's REST API, keeps the session
// cookie shared with the subscription WebSocket, parses HAL+JSON bodies and
// converts every non-2xx reply, network failure or timeout into a
// *StatusError carrying the HTTP status and, when the controller supplied a
// return code, its decoded controller status.
//
// # Return code decoding
//
// The controller reports failures as a numeric return code. The client resolves
// each code once via GET /rw/retcode and caches the result (name, severity,
// description) in a TTL cache; concurrent lookups of the same code share a
// single request.
//
// # Unloading
//
// When the shared lifecycle state is marked unloading, requests are detached
// from the caller's cancellation and bounded by the keepalive timeout so that
// teardown requests (mastership release, subscription group delete) still
// reach the controller while the process exits.
//
// # Usage
//
//	client, err := controller.New(controller.Config{
//	    BaseURL:  "https://192.168.125.1",
//	    Username: "Default User",
//	    Password: "robotics",
//	})
//	resp, err := client.Get(ctx, "/rw/panel/ctrl-state", nil)
//	var body map[string]any
//	err = resp.DecodeHAL(&body)
package controller
