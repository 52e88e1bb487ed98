// Package api implements the command gateway for the RFID bridge.
//
// This package provides:
//   - POST /topup, forwarding validated top-up commands to the bridge
//   - The dashboard WebSocket endpoint (default /ws)
//   - GET /health and GET /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Responses
//
// POST /topup answers immediately. 200 means the command was handed to the
// broker, not that a card reader applied it. 400 means the body was rejected
// and nothing was published. 503 means the bus is not connected. 502 means
// the broker refused or timed out.
//
// # Graceful Degradation
//
// Dashboards stay connected through bus outages; /health reports 503 until
// the bus is back.
package api
