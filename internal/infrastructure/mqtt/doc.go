// Package mqtt provides the MQTT connection used to talk to the embedding
// host application.
//
// The host and this client exchange small control messages through a broker:
// mastership requests go out on <prefix>/host/command, acknowledgements and
// cleanup requests come back on <prefix>/host/ack/... and <prefix>/host/cleanup.
// See Topics for the full tree.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Retained online/offline status with a Last Will
//   - Publishing bounded by a context or the default timeout
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Host.TopicPrefix})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().HostCleanup(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
