package mqtt

import (
	"fmt"
	"sort"
	"strings"
)

// Subscribe adds topics to the tracked subscription set.
//
// Tracked topics are (re)subscribed on every successful connection before
// the client reports StateConnected. If the client is already Connected the
// new topics are subscribed immediately; otherwise they are picked up by the
// next connection. Topics already tracked are ignored.
//
// Returns:
//   - error: ErrInvalidTopic for an empty topic, ErrClosed after Close, or a
//     wrapped ErrSubscribeFailed if the immediate broker subscribe fails
//     (the topics are then no longer tracked)
func (c *Client) Subscribe(topics ...string) error {
	for _, topic := range topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
		}
	}

	c.resubMu.Lock()
	defer c.resubMu.Unlock()

	c.connMu.RLock()
	closed, connected := c.closed, c.state == StateConnected
	c.connMu.RUnlock()
	if closed {
		return ErrClosed
	}

	added := make([]string, 0, len(topics))
	c.subMu.Lock()
	for _, topic := range topics {
		if _, exists := c.topics[topic]; exists {
			continue
		}
		c.topics[topic] = struct{}{}
		added = append(added, topic)
	}
	c.subMu.Unlock()

	if !connected || len(added) == 0 {
		return nil
	}

	if err := c.subscribeFilters(added); err != nil {
		c.subMu.Lock()
		for _, topic := range added {
			delete(c.topics, topic)
		}
		c.subMu.Unlock()
		return err
	}

	return nil
}

// OnMessage registers the single handler for every message received on a
// tracked topic. Registering a second handler returns ErrHandlerRegistered.
func (c *Client) OnMessage(handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	if c.handler != nil {
		return ErrHandlerRegistered
	}
	c.handler = handler

	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.topics)
}

// HasSubscription checks if a subscription is tracked for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.topics[topic]
	return exists
}

// trackedTopics returns a sorted snapshot of the tracked subscription set.
func (c *Client) trackedTopics() []string {
	c.subMu.RLock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.subMu.RUnlock()

	sort.Strings(topics)
	return topics
}

// subscribeFilters issues one SUBSCRIBE for all topics at the client QoS.
func (c *Client) subscribeFilters(topics []string) error {
	if len(topics) == 0 {
		return nil
	}

	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = c.qos
	}

	token := c.conn.SubscribeMultiple(filters, c.deliver)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, c.publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}
