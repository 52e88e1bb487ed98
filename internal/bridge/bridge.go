package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/rfid-bridge/internal/fanout"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/mqtt"
)

// Bus is the message bus the bridge relays from and publishes to.
// Satisfied by *mqtt.Client.
type Bus interface {
	Connect()
	Subscribe(topics ...string) error
	OnMessage(handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte) error
	SetOnStateChange(callback mqtt.StateChangeFunc)
	State() mqtt.ConnectionState
}

// Broadcaster delivers a value to every connected dashboard.
// Satisfied by *fanout.Registry.
type Broadcaster interface {
	Broadcast(v any) (fanout.BroadcastResult, error)
}

// Options holds the collaborators for a Bridge.
type Options struct {
	// Bus is the connected (or connecting) bus client.
	Bus Bus

	// Fanout receives one Envelope per valid inbound bus message.
	Fanout Broadcaster

	// Topics is the fleet topic set.
	Topics mqtt.Topics

	// Logger is required.
	Logger *logging.Logger
}

// Bridge relays card-reader telemetry to dashboards and top-up commands to
// card readers.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bus    Bus
	fanout Broadcaster
	topics mqtt.Topics
	logger *logging.Logger

	state   State
	started bool
	mu      sync.RWMutex

	forwarded       atomic.Uint64
	malformed       atomic.Uint64
	dropped         atomic.Uint64
	evicted         atomic.Uint64
	topupsPublished atomic.Uint64
	topupsRejected  atomic.Uint64
	topupsFailed    atomic.Uint64
	reconnects      atomic.Uint64

	now func() time.Time
}

// Stats is a point-in-time view of bridge counters.
type Stats struct {
	State             string `json:"state"`
	BusState          string `json:"bus_state"`
	MessagesForwarded uint64 `json:"messages_forwarded"`
	MessagesMalformed uint64 `json:"messages_malformed"`
	MessagesDropped   uint64 `json:"messages_dropped"`
	SessionsEvicted   uint64 `json:"sessions_evicted"`
	TopupsPublished   uint64 `json:"topups_published"`
	TopupsRejected    uint64 `json:"topups_rejected"`
	TopupsFailed      uint64 `json:"topups_failed"`
	Reconnects        uint64 `json:"reconnects"`
}

// New creates an Idle bridge. Call Start to connect.
func New(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.Fanout == nil {
		return nil, fmt.Errorf("fanout is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Bridge{
		bus:    opts.Bus,
		fanout: opts.Fanout,
		topics: opts.Topics,
		logger: opts.Logger,
		state:  StateIdle,
		now:    time.Now,
	}, nil
}

// Start wires the bridge into the bus and begins connecting.
//
// It registers the inbound message handler and the inbound topics, then asks
// the bus to connect. It does not wait for the connection: progress is
// reported through State.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.mu.Unlock()

	b.bus.SetOnStateChange(b.onBusState)

	if err := b.bus.OnMessage(b.OnBusMessage); err != nil {
		return fmt.Errorf("registering bus handler: %w", err)
	}

	inbound := b.topics.Inbound()
	if err := b.bus.Subscribe(inbound...); err != nil {
		return fmt.Errorf("subscribing to inbound topics: %w", err)
	}

	b.logger.Info("bridge starting", "topics", inbound, "topup_topic", b.topics.Topup())
	b.bus.Connect()

	return nil
}

// OnBusMessage handles one inbound bus message.
//
// Messages on topics other than status and balance are dropped. Payloads
// that are not valid JSON are counted, logged as ErrMalformedPayload and
// dropped. Everything else is wrapped in an Envelope and broadcast.
// It always returns nil so the bus delivery path keeps running.
func (b *Bridge) OnBusMessage(topic string, payload []byte) error {
	if !b.topics.IsInbound(topic) {
		b.dropped.Add(1)
		b.logger.Debug("dropping message on unexpected topic", "topic", topic)
		return nil
	}

	env, ok := newEnvelope(topic, payload, b.now())
	if !ok {
		b.malformed.Add(1)
		b.logger.Warn("dropping bus message",
			"topic", topic,
			"bytes", len(payload),
			"error", ErrMalformedPayload,
		)
		return nil
	}

	result, err := b.fanout.Broadcast(env)
	if err != nil {
		b.logger.Error("broadcast failed", "topic", topic, "error", err)
		return nil
	}

	b.forwarded.Add(1)
	if result.Evicted > 0 {
		b.evicted.Add(uint64(result.Evicted)) //nolint:gosec // counts are non-negative
	}
	b.logger.Debug("forwarded bus message",
		"topic", topic,
		"sessions", result.Delivered,
		"evicted", result.Evicted,
		"latency", time.Since(env.ReceivedAt).String(),
	)

	return nil
}

// SubmitTopup validates a top-up and publishes it on the topup topic.
//
// Returns:
//   - ErrValidation (wrapped, with reason) for an empty uid or a
//     non-positive or non-finite amount; nothing is published
//   - mqtt.ErrNotConnected when the bus is not connected
//   - a wrapped mqtt.ErrPublishFailed on any other publish failure
//
// A receipt means the command was handed to the broker, not that a device
// applied it.
func (b *Bridge) SubmitTopup(ctx context.Context, uid string, amount float64) (TopupReceipt, error) {
	cmd := TopupCommand{UID: uid, Amount: amount}
	if err := cmd.Validate(); err != nil {
		b.topupsRejected.Add(1)
		return TopupReceipt{}, err
	}

	if err := ctx.Err(); err != nil {
		return TopupReceipt{}, fmt.Errorf("submitting top-up: %w", err)
	}

	payload, err := cmd.payload()
	if err != nil {
		return TopupReceipt{}, err
	}

	topic := b.topics.Topup()
	if err := b.bus.Publish(topic, payload); err != nil {
		b.topupsFailed.Add(1)
		b.logger.Warn("top-up not forwarded",
			"uid", uid,
			"amount", amount,
			"error", err,
		)
		if errors.Is(err, mqtt.ErrNotConnected) {
			return TopupReceipt{}, err
		}
		return TopupReceipt{}, fmt.Errorf("publishing top-up: %w", err)
	}

	receipt := TopupReceipt{
		CommandID:  uuid.NewString(),
		Topic:      topic,
		AcceptedAt: b.now().UTC(),
	}
	b.topupsPublished.Add(1)
	b.logger.Info("top-up command published",
		"command_id", receipt.CommandID,
		"uid", uid,
		"amount", amount,
		"topic", topic,
	)

	return receipt, nil
}

// onBusState maps bus connection transitions onto the bridge lifecycle.
func (b *Bridge) onBusState(busState mqtt.ConnectionState, cause error) {
	switch busState {
	case mqtt.StateConnecting:
		b.setState(StateConnecting)

	case mqtt.StateConnected:
		// The bus only reports Connected once every inbound topic is
		// subscribed again.
		if prev := b.setState(StateSubscribed); prev == StateReconnecting {
			b.reconnects.Add(1)
		}
		b.setState(StateRunning)

	case mqtt.StateReconnecting:
		b.mu.Lock()
		prev := b.state
		if prev != StateConnecting {
			b.state = StateReconnecting
		}
		b.mu.Unlock()
		if prev == StateRunning {
			b.logger.Warn("bus connection lost, dashboards stay connected", "error", cause)
		} else {
			b.logger.Debug("bus connection attempt failed", "state", prev.String(), "error", cause)
		}

	case mqtt.StateDisconnected:
		b.setState(StateIdle)
	}
}

// setState records s and returns the previous state.
func (b *Bridge) setState(s State) State {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()

	if prev != s {
		b.logger.Info("bridge state changed", "from", prev.String(), "to", s.String())
	}
	return prev
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		State:             b.State().String(),
		BusState:          b.bus.State().String(),
		MessagesForwarded: b.forwarded.Load(),
		MessagesMalformed: b.malformed.Load(),
		MessagesDropped:   b.dropped.Load(),
		SessionsEvicted:   b.evicted.Load(),
		TopupsPublished:   b.topupsPublished.Load(),
		TopupsRejected:    b.topupsRejected.Load(),
		TopupsFailed:      b.topupsFailed.Load(),
		Reconnects:        b.reconnects.Load(),
	}
}
