// Package bridge is the core of the RFID bridge.
//
// It consumes status and balance messages from the bus, wraps each in an
// Envelope and broadcasts it to every dashboard, and turns validated top-up
// requests into commands on the topup topic.
//
//	Card Readers → status/balance → Bridge → Envelope → dashboards
//	Dashboard → POST /topup → Bridge → topup → Card Readers
//
// The bridge tracks its own lifecycle (Idle, Connecting, Subscribed,
// Running, Reconnecting) from bus state transitions. Bus outages never tear
// down dashboard sessions; they simply receive nothing until the bus
// recovers.
package bridge
