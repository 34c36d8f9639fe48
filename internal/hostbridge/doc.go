// Package hostbridge defines the messages exchanged with an embedding host
// application and the MQTT transport that carries them.
//
// When a host is present it owns the controller session: mastership requests
// and releases are sent to it as plain string messages and it answers with
// acknowledgements. During unload it also deletes the subscription group on
// the client's behalf.
package hostbridge
