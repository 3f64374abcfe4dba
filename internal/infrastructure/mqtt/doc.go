// Package mqtt provides MQTT client connectivity for the diagnostics bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for bridge presence
//   - Topic builders for the local RPC bus and the device gateway
//
// # Architecture
//
// The bridge uses one broker connection for two unrelated topic trees:
//
//	bus clients ↔ <bus prefix>/...    ↔ diagbridge ↔ <remote prefix>/... ↔ device gateway
//
// BusTopics describes the local RPC bus (calls, replies, signals, client
// presence); RemoteTopics describes the gateway that speaks the device
// protocol (adverts, actions, events).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.BusTopics{Prefix: "diagbridge"}.Status())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.RemoteTopics{Prefix: "upnp"}.AllAdverts(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
