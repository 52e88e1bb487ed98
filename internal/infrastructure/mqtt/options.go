package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time a single connection attempt may take.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is used when the config leaves publish_timeout unset.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// defaultInitialBackoff and defaultMaxBackoff bound reconnect delays when
	// the config leaves them unset.
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Clean session, so subscriptions must be re-issued on every connect
//   - Ordered delivery, so messages reach the handler in arrival order
//   - TLS configuration (if enabled)
//
// Paho's own reconnect machinery is disabled: the Client runs its own
// backoff loop so that state transitions and resubscription stay observable.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// publishTimeout returns the configured publish timeout or the default.
func publishTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.PublishTimeout <= 0 {
		return defaultPublishTimeout
	}
	return time.Duration(cfg.PublishTimeout) * time.Second
}

// backoffBounds returns the reconnect delay bounds from config, applying defaults.
func backoffBounds(cfg config.MQTTConfig) (initial, maxDelay time.Duration) {
	initial = time.Duration(cfg.Reconnect.InitialDelay) * time.Second
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxDelay = time.Duration(cfg.Reconnect.MaxDelay) * time.Second
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return initial, maxDelay
}
