// Wavemeter daemon.
//
// This is the main entry point for the wavemeter measurement and laser
// locking service. The daemon reads a multichannel wavelength meter,
// distributes measurements to in-process and network consumers, runs
// software PI locks on top of the measurement stream, and periodically
// recalibrates the instrument against a reference laser.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/QUEST-EQM/wavemeter/migrations"

	"github.com/QUEST-EQM/wavemeter/internal/api"
	"github.com/QUEST-EQM/wavemeter/internal/autocal"
	mqttbridge "github.com/QUEST-EQM/wavemeter/internal/bridges/mqtt"
	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
	"github.com/QUEST-EQM/wavemeter/internal/command"
	"github.com/QUEST-EQM/wavemeter/internal/history"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/config"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/database"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/influxdb"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/logging"
	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/mqtt"
	"github.com/QUEST-EQM/wavemeter/internal/instrument"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
	"github.com/QUEST-EQM/wavemeter/internal/measurement"
	"github.com/QUEST-EQM/wavemeter/internal/store"
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

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting wavemeter daemon",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	profiles := store.NewSQLiteProfileRepository(db.DB)
	callog := store.NewSQLiteCalibrationLog(db.DB)

	// Measurement fan-out. Every consumer below gets its own subscriber.
	broadcaster := broadcast.New(broadcast.WithDeliveryTimeout(cfg.Broadcast.Timeout()))
	defer broadcaster.Close()

	// Instrument driver
	if !cfg.Instrument.Simulated {
		return fmt.Errorf("no hardware driver compiled in; set instrument.simulated")
	}
	driver := instrument.NewSim(instrument.SimConfig{
		NChannels:       cfg.Instrument.NChannels,
		ReadTemperature: cfg.Instrument.ReadTemperature,
		ReadPressure:    cfg.Instrument.ReadPressure,
	})
	log.Info("instrument driver initialised",
		"simulated", true,
		"channels", cfg.Instrument.NChannels,
	)

	source := measurement.NewSource(driver, broadcaster, measurement.Config{
		SkipThreshold: cfg.Instrument.SkipThreshold,
	})
	source.SetLogger(log)

	// An unrecoverable instrument error terminates the daemon. Consumers
	// must never keep acting on a silently frozen measurement stream.
	fatalCh := make(chan error, 1)
	source.SetOnFatal(func(err error) {
		select {
		case fatalCh <- err:
		default:
		}
	})

	// Lock controllers, one per configured lock, each consuming its own
	// subscriber so a slow lock cannot stall the others.
	locks := make(map[string]*lock.Controller, len(cfg.Locks))
	for _, lc := range cfg.Locks {
		sink, sinkErr := buildSink(lc.Sink)
		if sinkErr != nil {
			return fmt.Errorf("lock %q: %w", lc.ID, sinkErr)
		}
		ctl := lock.New(lock.Config{
			ID:                lc.ID,
			Channel:           lc.Channel,
			Kp:                lc.Kp,
			Ki:                lc.Ki,
			Setpoint:          lc.Setpoint,
			OutputOffset:      lc.OutputOffset,
			Sensitivity:       lc.Sensitivity,
			MaxUpdateInterval: time.Duration(lc.MaxUpdateInterval) * time.Millisecond,
		}, sink)
		ctl.SetLogger(log)
		locks[lc.ID] = ctl

		sub := broadcaster.Subscribe()
		go func(c *lock.Controller) {
			for ev := range sub.Events() {
				c.Update(ctx, ev.State.Latest)
			}
		}(ctl)

		if lc.StartLocked {
			ctl.Enable()
		}
		log.Info("lock controller initialised",
			"id", lc.ID,
			"channel", lc.Channel,
			"engaged", lc.StartLocked,
		)
	}

	// Autocalibration machine, fed from its own subscriber
	machine := autocal.New(source)
	machine.SetLogger(log)

	autocalSub := broadcaster.Subscribe()
	go func() {
		for ev := range autocalSub.Events() {
			machine.Observe(ev.State.Latest)
		}
	}()

	dispatcher := command.New(source, machine, locks)
	if cfg.Autocal.Channel != "" {
		dispatcher.ConfigureAutocal(autocal.Config{
			Channel:        cfg.Autocal.Channel,
			ExpectedValue:  cfg.Autocal.ExpectedValue,
			Threshold:      cfg.Autocal.Threshold,
			Countdown:      cfg.Autocal.Countdown,
			Retry:          cfg.Autocal.Retry,
			RetryCountdown: cfg.Autocal.RetryCountdown,
		})
	}

	// Connect to InfluxDB and record measurement history (optional)
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

		recorder := history.NewRecorder(broadcaster.Subscribe(), influxClient, dispatcher)
		recorder.Start()
		defer func() {
			log.Info("stopping history recorder")
			recorder.Stop()
		}()
		log.Info("history recorder started")
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker and start the egress bridge (optional)
	var mqttClient *mqtt.Client
	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
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

		bridge = mqttbridge.New(mqttClient, broadcaster.Subscribe(), dispatcher,
			mqttbridge.WithQoS(byte(cfg.MQTT.QoS)))
		bridge.SetLogger(log)
		bridge.Start()
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT disabled")
	}

	// Rail alerts and autocalibration events go to the log, the broker,
	// and (for finished cycles) the calibration history table.
	for _, ctl := range locks {
		ctl.SetOnRail(func(a lock.Alert) {
			log.Warn("lock output railed",
				"lock_id", a.LockID,
				"output", a.Output,
				"high", a.High,
			)
			if bridge != nil {
				bridge.PublishLockAlert(a)
			}
		})
	}
	machine.SetOnState(func(st autocal.State) {
		log.Info("autocalibration state changed", "state", string(st))
		if bridge != nil {
			bridge.PublishCalibrationState(st)
		}
	})
	machine.SetOnResult(func(r autocal.Result) {
		recordCalibration(ctx, log, callog, influxClient, bridge, r)
	})

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Dispatcher:  dispatcher,
		Broadcaster: broadcaster,
		Profiles:    profiles,
		CalLog:      callog,
		DB:          db,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
	)

	// Start measurement readout
	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("starting measurement: %w", err)
	}
	defer func() {
		log.Info("stopping measurement")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if stopErr := source.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping measurement", "error", stopErr)
		}
	}()
	log.Info("measurement started")

	if cfg.Autocal.StartOnBoot {
		if startErr := dispatcher.StartAutocal(); startErr != nil {
			log.Warn("autocalibration did not start at boot", "error", startErr)
		} else {
			log.Info("autocalibration cycle started at boot")
		}
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case fatalErr := <-fatalCh:
		log.Error("instrument connection lost", "error", fatalErr)
		return fmt.Errorf("instrument connection lost: %w", fatalErr)
	}

	// Deferred Close() calls run in reverse order:
	// 1. Measurement source
	// 2. API server
	// 3. MQTT bridge and client (if enabled)
	// 4. History recorder and InfluxDB (if enabled)
	// 5. Broadcaster
	// 6. Database

	log.Info("wavemeter daemon stopped")
	return nil
}

// buildSink constructs the analog output backend for a lock.
func buildSink(cfg config.SinkConfig) (lock.OutputSink, error) {
	switch cfg.Backend {
	case "", "sim":
		return lock.NewSimSink(cfg.OutputMin, cfg.OutputMax, cfg.AuxMin, cfg.AuxMax), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

// recordCalibration persists a finished autocalibration cycle and forwards
// it to the optional history and broker sinks.
func recordCalibration(ctx context.Context, log *logging.Logger, callog store.CalibrationLog,
	influxClient *influxdb.Client, bridge *mqttbridge.Bridge, r autocal.Result) {

	log.Info("autocalibration cycle finished",
		"channel", r.Channel,
		"outcome", string(r.Outcome),
		"reason", r.Reason,
		"measured", r.MeasuredValue,
	)

	entry := &store.CalibrationEntry{
		StartedAt:     r.StartedAt,
		FinishedAt:    &r.FinishedAt,
		Channel:       r.Channel,
		MeasuredValue: &r.MeasuredValue,
		ExpectedValue: r.ExpectedValue,
		Outcome:       string(r.Outcome),
	}
	if r.Reason != "" {
		entry.Detail = &r.Reason
	}
	if err := callog.Append(ctx, entry); err != nil {
		log.Error("failed to record calibration result", "error", err)
	}

	if influxClient != nil {
		influxClient.WriteCalibrationEvent(r.Channel, string(r.Outcome), r.MeasuredValue)
	}
	if bridge != nil {
		bridge.PublishCalibrationResult(r)
	}
}

// getConfigPath returns the configuration file path.
// Uses WAVEMETER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WAVEMETER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
