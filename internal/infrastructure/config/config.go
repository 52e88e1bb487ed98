package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the RFID bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
// It is read once at startup and treated as immutable afterwards.
type Config struct {
	Fleet     FleetConfig     `yaml:"fleet"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// FleetConfig identifies the card-reader fleet whose topics the bridge relays.
type FleetConfig struct {
	// TeamID is the namespace segment shared with the devices, e.g. "its_ace".
	TeamID string `yaml:"team_id" env:"RFIDBRIDGE_TEAM_ID"`

	// TopicPrefix is the root of the topic hierarchy. Default: "rfid".
	TopicPrefix string `yaml:"topic_prefix" env:"RFIDBRIDGE_TOPIC_PREFIX"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" env:"RFIDBRIDGE_MQTT_QOS"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishTimeout bounds how long a publish waits for the broker (seconds).
	PublishTimeout int `yaml:"publish_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"RFIDBRIDGE_MQTT_HOST"`
	Port     int    `yaml:"port" env:"RFIDBRIDGE_MQTT_PORT"`
	TLS      bool   `yaml:"tls" env:"RFIDBRIDGE_MQTT_TLS"`
	ClientID string `yaml:"client_id" env:"RFIDBRIDGE_MQTT_CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"RFIDBRIDGE_MQTT_USERNAME"`
	Password string `yaml:"password" env:"RFIDBRIDGE_MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
// The delay starts at InitialDelay and doubles on each failed attempt up to MaxDelay.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP command gateway settings.
type APIConfig struct {
	Host     string           `yaml:"host" env:"RFIDBRIDGE_API_HOST"`
	Port     int              `yaml:"port" env:"RFIDBRIDGE_API_PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"RFIDBRIDGE_CORS_ALLOWED_ORIGINS"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains dashboard WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// WriteTimeout bounds a single frame write to a dashboard (seconds).
	WriteTimeout int `yaml:"write_timeout"`

	// SendBuffer is the per-session outbound queue length. A session whose
	// queue is full when a broadcast arrives is disconnected.
	SendBuffer int `yaml:"send_buffer"`
}

// InfluxDBConfig contains the optional telemetry sink settings.
type InfluxDBConfig struct {
	Enabled        bool   `yaml:"enabled" env:"RFIDBRIDGE_INFLUXDB_ENABLED"`
	URL            string `yaml:"url" env:"RFIDBRIDGE_INFLUXDB_URL"`
	Token          string `yaml:"token" env:"RFIDBRIDGE_INFLUXDB_TOKEN"`
	Org            string `yaml:"org"`
	Bucket         string `yaml:"bucket"`
	BatchSize      int    `yaml:"batch_size"`
	FlushInterval  int    `yaml:"flush_interval"`
	ReportInterval int    `yaml:"report_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"RFIDBRIDGE_LOG_LEVEL"`
	Format string `yaml:"format" env:"RFIDBRIDGE_LOG_FORMAT"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern RFIDBRIDGE_SECTION_KEY,
// for example RFIDBRIDGE_MQTT_HOST or RFIDBRIDGE_TEAM_ID.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = DefaultClientID(cfg.Fleet.TeamID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			TopicPrefix: "rfid",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
			PublishTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
			WriteTimeout:   5,
			SendBuffer:     64,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// DefaultClientID builds a broker client identity unique to this process,
// e.g. "backend_its_ace_3f2a9c1b".
func DefaultClientID(teamID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("backend_%s_%s", teamID, suffix)
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.TeamID == "" {
		errs = append(errs, "fleet.team_id is required")
	} else if strings.ContainsAny(c.Fleet.TeamID, "/+#") {
		errs = append(errs, "fleet.team_id must not contain '/', '+' or '#'")
	}
	if c.Fleet.TopicPrefix == "" {
		errs = append(errs, "fleet.topic_prefix is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be less than initial_delay")
	}
	if c.MQTT.PublishTimeout < 1 {
		errs = append(errs, "mqtt.publish_timeout must be at least 1 second")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with '/'")
	}
	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, "websocket.send_buffer must be at least 1")
	}
	if c.WebSocket.WriteTimeout < 1 {
		errs = append(errs, "websocket.write_timeout must be at least 1 second")
	}
	if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.ping_interval and pong_timeout must be at least 1 second")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
