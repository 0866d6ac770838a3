// Package mqtt provides MQTT client connectivity for the wavemeter server.
//
// This package manages:
//   - Connection to the lab broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The server publishes channel measurements, lock status snapshots and
// calibration events onto the broker so lab dashboards and loggers can follow
// them without connecting to the API directly.
//
//	wavemeter server -> MQTT broker -> dashboards / loggers
//
// # Security Considerations
//
//   - TLS is recommended outside a trusted lab network (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a channel measurement
//	topic := mqtt.Topics{}.ChannelState("ch1")
//	client.Publish(topic, payload, 1, true)
package mqtt
