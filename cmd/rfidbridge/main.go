// RFID Bridge - card reader telemetry and top-up gateway
//
// The bridge subscribes to the card-reader fleet's MQTT topics, relays every
// status and balance message to connected dashboards over WebSocket, and
// forwards POST /topup requests to the readers as MQTT commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/nerrad567/rfid-bridge/internal/api"
	"github.com/nerrad567/rfid-bridge/internal/bridge"
	"github.com/nerrad567/rfid-bridge/internal/fanout"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options holds the command-line settings.
type options struct {
	ConfigPath string
	LogLevel   string
}

func main() {
	// Cancelled on Ctrl+C or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newCommand builds the root command.
func newCommand() *cli.Command {
	opts := &options{}

	return &cli.Command{
		Name:    "rfidbridge",
		Usage:   "Relay RFID card-reader telemetry to dashboards and top-ups to readers",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("RFIDBRIDGE_CONFIG"),
				Value:       defaultConfigPath,
				Destination: &opts.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "override logging.level (debug, info, warn, error)",
				Sources:     cli.EnvVars("RFIDBRIDGE_LOG_LEVEL"),
				Destination: &opts.LogLevel,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx, *opts)
		},
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled, then shuts everything down in reverse
// start order.
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting RFID bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.ConfigPath,
		"team_id", cfg.Fleet.TeamID,
		"level", cfg.Logging.Level,
	)

	topics := mqtt.NewTopics(cfg.Fleet.TopicPrefix, cfg.Fleet.TeamID)

	// Dashboard sessions
	sessions := fanout.NewRegistry(cfg.WebSocket, log.With("component", "fanout"))
	defer func() {
		log.Info("closing dashboard sessions", "sessions", sessions.Count())
		sessions.Close()
	}()

	// Bus client; connection happens in the background once the bridge starts
	bus := mqtt.New(cfg.MQTT)
	bus.SetLogger(log.With("component", "mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	core, err := bridge.New(bridge.Options{
		Bus:    bus,
		Fanout: sessions,
		Topics: topics,
		Logger: log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"subscriptions", topics.Inbound(),
	)

	// Telemetry sink (optional)
	if cfg.InfluxDB.Enabled {
		stopTelemetry, telemetryErr := startTelemetry(ctx, cfg, core, sessions, log)
		if telemetryErr != nil {
			return telemetryErr
		}
		defer stopTelemetry()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command gateway
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.With("component", "api"),
		Bridge:   core,
		Bus:      bus,
		Sessions: sessions,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Telemetry (if enabled)
	// 3. MQTT
	// 4. Dashboard sessions

	log.Info("RFID bridge stopped")
	return nil
}

// startTelemetry connects to InfluxDB and starts the stats reporter. The
// returned func stops the reporter, writes a final sample and closes the
// client.
func startTelemetry(ctx context.Context, cfg *config.Config, core *bridge.Bridge, sessions *fanout.Registry, log *logging.Logger) (func(), error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	reporter := influxdb.NewReporter(client, cfg.InfluxDB.ReportInterval, log.With("component", "telemetry"),
		telemetryCollectors(cfg.Fleet.TeamID, core, sessions)...)

	reportCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reporter.Run(reportCtx)
	}()

	return func() {
		cancel()
		<-done
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}, nil
}

// statsSource is the part of the bridge the telemetry reporter samples.
type statsSource interface {
	Stats() bridge.Stats
}

// sessionSource is the part of the session registry the telemetry reporter samples.
type sessionSource interface {
	Stats() fanout.Stats
}

// telemetryCollectors returns the bridge and dashboard-session collectors.
func telemetryCollectors(teamID string, core statsSource, sessions sessionSource) []influxdb.Collector {
	tags := func(extra ...string) map[string]string {
		t := map[string]string{"team_id": teamID}
		for i := 0; i+1 < len(extra); i += 2 {
			t[extra[i]] = extra[i+1]
		}
		return t
	}

	return []influxdb.Collector{
		func() influxdb.Sample {
			st := core.Stats()
			return influxdb.Sample{
				Measurement: "bridge",
				Tags:        tags("state", st.State, "bus_state", st.BusState),
				Fields: map[string]any{
					"messages_forwarded": st.MessagesForwarded,
					"messages_malformed": st.MessagesMalformed,
					"messages_dropped":   st.MessagesDropped,
					"sessions_evicted":   st.SessionsEvicted,
					"topups_published":   st.TopupsPublished,
					"topups_rejected":    st.TopupsRejected,
					"topups_failed":      st.TopupsFailed,
					"reconnects":         st.Reconnects,
				},
			}
		},
		func() influxdb.Sample {
			st := sessions.Stats()
			return influxdb.Sample{
				Measurement: "dashboard_sessions",
				Tags:        tags(),
				Fields: map[string]any{
					"active":     st.Sessions,
					"registered": st.Registered,
					"evicted":    st.Evicted,
				},
			}
		},
	}
}
