package bridge

import (
	"encoding/json"
	"time"
)

// Envelope wraps one bus message for delivery to dashboards.
//
// Data holds the payload exactly as received; it is never decoded into Go
// values, so keys, key order and number formatting survive the trip.
// ReceivedAt stays internal and is not part of the wire form.
type Envelope struct {
	Topic      string          `json:"topic"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"-"`
}

// newEnvelope validates payload and wraps it. The payload is copied so the
// envelope stays immutable once the bus client reuses its buffer.
func newEnvelope(topic string, payload []byte, receivedAt time.Time) (Envelope, bool) {
	if !json.Valid(payload) {
		return Envelope{}, false
	}
	data := make(json.RawMessage, len(payload))
	copy(data, payload)
	return Envelope{Topic: topic, Data: data, ReceivedAt: receivedAt}, true
}
