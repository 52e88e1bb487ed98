package mqtt

import (
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic at the configured QoS, not retained.
//
// Publish fails fast with ErrNotConnected unless the client is Connected;
// nothing is queued for later delivery. Once Connected, it blocks until the
// broker acknowledges (QoS 1/2) or the publish timeout elapses.
//
// Returns:
//   - error: nil on success, ErrInvalidTopic, ErrNotConnected or a wrapped
//     ErrPublishFailed
//
// Example:
//
//	topic := mqtt.NewTopics("rfid", "its_ace").Topup()
//	err := client.Publish(topic, []byte(`{"uid":"A1B2","amount":10}`))
func (c *Client) Publish(topic string, payload []byte) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.conn.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, c.publishTimeout)
	}
	if err := token.Error(); err != nil {
		// The connection can drop between the state check and the write.
		if errors.Is(err, pahomqtt.ErrNotConnected) {
			return ErrNotConnected
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
