package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with the bridge's connection semantics.
//
// It owns the connection state machine (Disconnected, Connecting, Connected,
// Reconnecting), reconnects with bounded exponential backoff in a background
// goroutine, and re-issues the full set of tracked subscriptions on every
// successful connection before announcing StateConnected.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - The state-change observer is called serially, in transition order.
//     It must not call Subscribe or Close.
type Client struct {
	conn pahoConn
	cfg  config.MQTTConfig
	qos  byte

	publishTimeout time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// after is the backoff timer; replaced in tests.
	after func(time.Duration) <-chan time.Time

	// topics tracks subscriptions for re-subscription on reconnect.
	topics map[string]struct{}
	subMu  sync.RWMutex

	// resubMu serialises subscribe traffic so a topic added mid-reconnect
	// is either in the resubscribed snapshot or sees StateConnected.
	resubMu sync.Mutex

	handler   MessageHandler
	handlerMu sync.RWMutex

	// state, connecting and closed are guarded by connMu. notifyMu is held
	// across a transition and its notification so observers see them in order.
	state      ConnectionState
	connecting bool
	closed     bool
	connMu     sync.RWMutex
	notifyMu   sync.Mutex

	done  chan struct{}
	loops sync.WaitGroup

	onStateChange StateChangeFunc
	callbackMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Messages are delivered one at a time in arrival order, so handlers should
// not block for extended periods.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// pahoConn is the subset of pahomqtt.Client the Client drives.
type pahoConn interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// New creates a Client for the configured broker without connecting.
// Call Connect to start the background connection loop.
func New(cfg config.MQTTConfig) *Client {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	c.conn = pahomqtt.NewClient(opts)

	return c
}

// newClient builds a Client with no transport attached.
func newClient(cfg config.MQTTConfig) *Client {
	initial, maxDelay := backoffBounds(cfg)
	return &Client{
		cfg:            cfg,
		qos:            byte(cfg.QoS), //nolint:gosec // validated to 0..2 by config
		publishTimeout: publishTimeout(cfg),
		initialBackoff: initial,
		maxBackoff:     maxDelay,
		after:          time.After,
		topics:         make(map[string]struct{}),
		done:           make(chan struct{}),
	}
}

// Connect starts connecting to the broker in the background.
//
// It is idempotent: calls while Connecting, Connected or Reconnecting are
// no-ops. It never blocks and never returns an error; failures are reported
// as StateReconnecting transitions to the state-change observer and retried
// with exponential backoff until Close is called.
func (c *Client) Connect() {
	c.startLoop(StateConnecting, nil, true)
}

// startLoop transitions into state and launches the connect loop unless one
// is already running or the client is closed. With fromIdle set, the loop is
// only started from StateDisconnected.
func (c *Client) startLoop(state ConnectionState, cause error, fromIdle bool) {
	started := c.transition(cause, func() (ConnectionState, bool) {
		if c.closed || c.connecting {
			return c.state, false
		}
		if fromIdle && c.state != StateDisconnected {
			return c.state, false
		}
		c.connecting = true
		c.loops.Add(1)
		return state, true
	})
	if started {
		go c.connectLoop()
	}
}

// connectLoop attempts to connect until it succeeds or the client is closed.
func (c *Client) connectLoop() {
	defer c.loops.Done()

	b := newBackoff(c.initialBackoff, c.maxBackoff)
	for attempt := 1; ; attempt++ {
		err := c.attemptConnect()
		if err == nil {
			if err = c.handleConnect(); err == nil {
				return
			}
			c.conn.Disconnect(defaultDisconnectQuiesce)
		}

		delay := b.Next()
		c.logWarn("broker connection attempt failed",
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", err,
		)
		c.transition(fmt.Errorf("%w: %w", ErrConnectionFailed, err), func() (ConnectionState, bool) {
			if c.closed {
				return c.state, false
			}
			return StateReconnecting, true
		})

		select {
		case <-c.done:
			c.connMu.Lock()
			c.connecting = false
			c.connMu.Unlock()
			return
		case <-c.after(delay):
		}
	}
}

// attemptConnect performs one bounded connection attempt.
func (c *Client) attemptConnect() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	token := c.conn.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("timeout after %v", defaultConnectTimeout)
	}
	return token.Error()
}

// handleConnect restores every tracked subscription on a fresh connection and
// only then announces StateConnected.
func (c *Client) handleConnect() error {
	c.resubMu.Lock()
	defer c.resubMu.Unlock()

	topics := c.trackedTopics()
	if err := c.subscribeFilters(topics); err != nil {
		return err
	}

	ok := c.transition(nil, func() (ConnectionState, bool) {
		if c.closed || !c.conn.IsConnectionOpen() {
			return c.state, false
		}
		c.connecting = false
		return StateConnected, true
	})
	if !ok {
		return ErrNotConnected
	}

	c.logInfo("broker connected", "subscriptions", len(topics))
	return nil
}

// handleConnectionLost is called by paho when an established connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.logWarn("broker connection lost", "error", err)
	c.startLoop(StateReconnecting, fmt.Errorf("%w: %w", ErrConnectionFailed, err), false)
}

// transition applies fn under the state lock and, if fn reports a change,
// notifies the observer. Returns whether the transition happened.
func (c *Client) transition(cause error, fn func() (ConnectionState, bool)) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.connMu.Lock()
	next, ok := fn()
	if ok {
		c.state = next
	}
	c.connMu.Unlock()

	if !ok {
		return false
	}

	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(next, cause)
	}
	return true
}

// Close stops the reconnect loop and disconnects from the broker.
//
// The state becomes StateDisconnected and stays there; a closed Client
// cannot be reconnected. Close is idempotent.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	closing := c.transition(nil, func() (ConnectionState, bool) {
		if c.closed {
			return c.state, false
		}
		c.closed = true
		c.connecting = false
		close(c.done)
		return StateDisconnected, true
	})
	if !closing {
		return nil
	}

	c.conn.Disconnect(defaultDisconnectQuiesce)
	c.loops.Wait()

	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is Connected with all
// subscriptions restored.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// HealthCheck verifies the MQTT connection is alive.
//
// Returns:
//   - error: nil if healthy, ErrNotConnected or a context error otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// SetOnStateChange sets the observer for connection state transitions.
// It is called on initial connect, every failed attempt, every loss and
// every successful reconnect.
func (c *Client) SetOnStateChange(callback StateChangeFunc) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection and handler diagnostics.
// If not set, diagnostics are silently dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logInfo(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

// deliver hands a paho message to the registered handler with panic recovery.
func (c *Client) deliver(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}
	}()

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()

	if handler == nil {
		if logger := c.getLogger(); logger != nil {
			logger.Debug("MQTT message dropped, no handler registered", "topic", msg.Topic())
		}
		return
	}

	if err := handler(msg.Topic(), msg.Payload()); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
