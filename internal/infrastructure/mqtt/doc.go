// Package mqtt provides the bus client for the RFID bridge.
//
// This package manages:
//   - Connection to the broker with an owned exponential-backoff reconnect loop
//   - An observable connection state machine
//   - Restoration of every tracked subscription on each reconnect
//   - Publishing with fail-fast semantics while disconnected
//   - Topic builders for the card-reader fleet
//
// # Architecture
//
// Card readers publish card status and balance events to the broker. The
// bridge subscribes to those topics, fans them out to dashboards, and
// publishes top-up commands back to the readers.
//
//	Card Readers ↔ MQTT Broker ↔ RFID Bridge ↔ Dashboards
//
// # Connection lifecycle
//
//	Disconnected → Connecting → Connected ⇄ Reconnecting
//
// Paho's AutoReconnect is disabled. The Client retries with delays of 1s,
// 2s, 4s ... capped at 30s by default, and uses a clean session, so every
// tracked topic is re-subscribed before StateConnected is reported.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(logger)
//	client.SetOnStateChange(func(s mqtt.ConnectionState, err error) { ... })
//	_ = client.OnMessage(handler)
//	_ = client.Subscribe(topics.Inbound()...)
//	client.Connect()
//	defer client.Close()
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package mqtt
