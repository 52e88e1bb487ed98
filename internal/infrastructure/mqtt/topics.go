package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of the card-reader topic hierarchy.
const DefaultTopicPrefix = "rfid"

// Topics provides builders for the fleet's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("rfid", "its_ace")
//	topics.Balance() // "rfid/its_ace/card/balance"
//
// Status and balance are published by the readers and only ever subscribed
// to by the bridge. Topup is published by the bridge and never subscribed to.
type Topics struct {
	prefix string
	teamID string
}

// NewTopics returns the topic set for one fleet. An empty prefix falls back
// to DefaultTopicPrefix.
func NewTopics(prefix, teamID string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix, teamID: teamID}
}

// Status returns the card status topic.
//
// Example: rfid/its_ace/card/status
func (t Topics) Status() string {
	return t.card("status")
}

// Balance returns the card balance topic.
//
// Example: rfid/its_ace/card/balance
func (t Topics) Balance() string {
	return t.card("balance")
}

// Topup returns the top-up command topic.
//
// Example: rfid/its_ace/card/topup
func (t Topics) Topup() string {
	return t.card("topup")
}

// Inbound returns the topics the bridge subscribes to.
func (t Topics) Inbound() []string {
	return []string{t.Status(), t.Balance()}
}

// IsInbound reports whether topic is one of the subscribe-only topics.
func (t Topics) IsInbound(topic string) bool {
	return topic == t.Status() || topic == t.Balance()
}

func (t Topics) card(leaf string) string {
	return fmt.Sprintf("%s/%s/card/%s", t.prefix, t.teamID, leaf)
}

// validatePublishTopic rejects topics that cannot be published to.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
