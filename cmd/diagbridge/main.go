// diagbridge - network diagnostics bridge
//
// diagbridge discovers devices exposing the UPnP BasicManagement service
// through the remote gateway and publishes each one as an object on the
// local MQTT RPC bus, where clients can read its properties and run ping,
// DNS lookup and traceroute tests on it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/device"
	"github.com/nerrad567/diagbridge/internal/history"
	"github.com/nerrad567/diagbridge/internal/infrastructure/config"
	"github.com/nerrad567/diagbridge/internal/infrastructure/database"
	"github.com/nerrad567/diagbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/diagbridge/internal/infrastructure/logging"
	"github.com/nerrad567/diagbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/diagbridge/internal/remote/gateway"
	"github.com/nerrad567/diagbridge/internal/server"
	"github.com/nerrad567/diagbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled, then tears everything down in reverse
// order through the defer chain.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting diagbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Result journal (optional)
	var journal history.Repository
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = openJournal(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		journal = history.NewSQLiteRepository(db.DB)
	} else {
		log.Info("result journal disabled")
	}

	// Connect to MQTT broker
	busTopics := mqtt.BusTopics{Prefix: cfg.Bus.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, busTopics.Status())
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Local RPC bus
	connector, err := bus.NewMQTTConnector(busOptions(cfg, mqttClient, log))
	if err != nil {
		return fmt.Errorf("creating bus connector: %w", err)
	}
	if err := connector.Start(); err != nil {
		return fmt.Errorf("starting bus connector: %w", err)
	}
	defer func() {
		log.Info("stopping bus connector")
		connector.Stop()
	}()

	// Remote device gateway
	controlPoint, err := gateway.New(gatewayOptions(cfg, mqttClient, log))
	if err != nil {
		return fmt.Errorf("creating control point: %w", err)
	}

	icons, err := device.NewIconFetcher(cfg.Icon.FetchTimeout, cfg.Icon.MaxSize)
	if err != nil {
		return fmt.Errorf("creating icon fetcher: %w", err)
	}

	opts := server.Options{
		Connector: connector,
		Device: device.Options{
			ControlPoint:     controlPoint,
			ServiceType:      cfg.Remote.ServiceType,
			ObjectRoot:       cfg.Bridge.ObjectRoot,
			ResubscribeDelay: cfg.Bridge.ResubscribeDelay,
			RetryWindow:      cfg.Bridge.RetryWindow,
			Icons:            icons,
		},
		History:   journal,
		Retention: cfg.Database.Retention,
		Version:   version,
		Logger:    log.Component("server"),
	}
	// A nil *influxdb.Client must not become a non-nil Metrics.
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	svc, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("creating diagnostics service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting diagnostics service: %w", err)
	}
	defer func() {
		log.Info("stopping diagnostics service")
		svc.Shutdown()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"object_root", cfg.Bridge.ObjectRoot,
		"control_point", controlPoint.InstanceID(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Diagnostics service (stops discovery, answers pending calls)
	// 2. Bus connector
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database (if enabled)

	log.Info("diagbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DIAGBRIDGE_CONFIG environment variable if set, otherwise default.
// busOptions configures the connector for the local RPC bus topics.
func busOptions(cfg *config.Config, client *mqtt.Client, log *logging.Logger) bus.Options {
	return bus.Options{
		Client:      client,
		TopicPrefix: cfg.Bus.TopicPrefix,
		QoS:         byte(cfg.Bus.QoS), //nolint:gosec // validated to 0-2
		Logger:      log.Component("bus"),
	}
}

// gatewayOptions configures the control point for the gateway topics,
// which carry their own QoS.
func gatewayOptions(cfg *config.Config, client *mqtt.Client, log *logging.Logger) gateway.Options {
	return gateway.Options{
		Client:        client,
		TopicPrefix:   cfg.Remote.TopicPrefix,
		QoS:           byte(cfg.Remote.QoS), //nolint:gosec // validated to 0-2
		ActionTimeout: cfg.Remote.ActionTimeout,
		Logger:        log.Component("gateway"),
	}
}

func getConfigPath() string {
	if path := os.Getenv("DIAGBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openJournal opens the journal database and applies pending migrations.
func openJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database connected",
		"path", db.Path(),
		"migrations_applied", applied,
	)
	return db, nil
}

// healthCheck verifies the infrastructure connections. db and influxClient
// are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
