// Package mqtt provides MQTT client connectivity for the cloudsync daemon.
//
// This package manages:
//   - Connection to the IoT platform broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Connection health monitoring
//
// # Architecture
//
// The sync engine (internal/cloud) talks to the platform exclusively through
// this wrapper. Topic derivation and payload shaping live in internal/cloud;
// this package is transport only.
//
//	SyncEngine ↔ mqtt.Client ↔ IoT platform broker
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are derived from the device secret (internal/cloud/auth.go)
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
//	err = client.Subscribe("/sys/pk/dk/thing/event/property/post_reply", 0,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
