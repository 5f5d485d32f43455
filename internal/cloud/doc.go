// Package cloud implements the device-side synchronization engine for the
// IoT platform.
//
// This package manages:
//   - The object model: the schema of properties and events the device may report
//   - Correlation-tagged request envelopes for telemetry, OTA and RPC traffic
//   - Tracking in-flight requests against asynchronous acknowledgements
//   - Dispatching inbound platform messages (property writes, OTA notices,
//     RPC requests) to registered observers
//
// # Architecture
//
// The engine is the only component that talks to the platform. Outbound,
// callers hand it plain telemetry points; it partitions them against the
// object model, tags each envelope with a correlation identifier, publishes
// over MQTT and blocks on the acknowledgement (10 s deadline per request).
// Inbound, the transport delivers (topic, payload) pairs on its own
// goroutine; the dispatcher classifies them once into a closed set of
// message kinds, resolves pending correlations for the reply kinds and fans
// the command kinds out to observers.
//
//	caller → Formatter → Transport.Publish → CorrelationTable.Await
//	Transport delivery → Dispatcher → CorrelationTable.Resolve | ObserverRegistry
//
// # Concurrency
//
// Two goroutines interact: the caller invoking publish operations and the
// transport's delivery callback. The CorrelationTable is the only shared
// state between them and is safe for concurrent use. Each in-flight request
// carries its own completion channel and deadline timer, so any number of
// publish-and-wait sequences may overlap. Observer notification runs
// synchronously on the delivery goroutine; observers must not block.
//
// # Usage
//
//	model, err := cloud.LoadObjectModel(cfg.Cloud.SchemaPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := cloud.New(cfg, logger)
//	engine.RegisterObjectModel(model)
//	engine.SubscribeEvents(handler)
//
//	if err := engine.Connect(false); err != nil {
//	    log.Fatal(err)
//	}
//	engine.PublishTelemetry(map[string]any{"energy": 100})
package cloud
