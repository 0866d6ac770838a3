package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the wavemeter lock server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Locks      []LockConfig     `yaml:"locks"`
	Autocal    AutocalConfig    `yaml:"autocal"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// InstrumentConfig describes the wavemeter readout.
type InstrumentConfig struct {
	// NChannels is the number of hardware switcher channels to read out.
	NChannels int `yaml:"nchannels"`

	// ReadTemperature enables the instrument temperature channel "T".
	ReadTemperature bool `yaml:"read_temperature"`

	// ReadPressure enables the instrument pressure channel "p".
	ReadPressure bool `yaml:"read_pressure"`

	// SkipThreshold discards a wavelength value if it differs from the previous
	// valid reading by more than this (in nm). Filters the occasional value the
	// instrument attributes to the wrong switcher channel.
	SkipThreshold float64 `yaml:"skip_threshold"`

	// Simulated runs against the built-in simulated driver instead of real hardware.
	Simulated bool `yaml:"simulated"`
}

// BroadcastConfig tunes measurement fan-out to subscribers.
type BroadcastConfig struct {
	// DeliveryTimeout is how long a stalled subscriber delivery may block its
	// dispatch worker before the subscriber is dropped (seconds).
	DeliveryTimeout int `yaml:"delivery_timeout"`
}

// APIConfig contains HTTP API server settings.
// The default port 3280 follows the wavemeter server's RPC port convention.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
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
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LockConfig describes one PI lock instance.
type LockConfig struct {
	// ID names the lock (e.g. "lock-ch1"); used in API paths and status topics.
	ID string `yaml:"id"`

	// Channel is the measurement channel the lock consumes (e.g. "ch1").
	Channel string `yaml:"channel"`

	// Kp and Ki are the proportional and integral gains.
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`

	// Setpoint is the initial lock setpoint in the channel's unit.
	Setpoint float64 `yaml:"setpoint"`

	// OutputOffset is added to every output command.
	OutputOffset float64 `yaml:"output_offset"`

	// Sensitivity is the output sensitivity in <channel unit>/<output unit>,
	// used for setpoint feed-forward. Zero disables feed-forward.
	Sensitivity float64 `yaml:"sensitivity"`

	// MaxUpdateInterval is the largest accepted time between updates (ms).
	// Steps with a larger (or non-positive) dt are skipped.
	MaxUpdateInterval int `yaml:"max_update_interval"`

	// Sink selects the output backend ("sim" for the simulated sink).
	Sink SinkConfig `yaml:"sink"`

	// StartLocked engages the lock at startup.
	StartLocked bool `yaml:"start_locked"`
}

// SinkConfig describes the analog output backend of a lock.
type SinkConfig struct {
	Backend   string  `yaml:"backend"`
	OutputMin float64 `yaml:"output_min"`
	OutputMax float64 `yaml:"output_max"`
	AuxMin    float64 `yaml:"aux_min"`
	AuxMax    float64 `yaml:"aux_max"`
}

// AutocalConfig contains the startup autocalibration settings.
// These can be reconfigured at runtime through the command surface.
type AutocalConfig struct {
	// Channel is the measurement channel verified before calibrating.
	Channel string `yaml:"channel"`

	// ExpectedValue is the reference value the channel must be near.
	ExpectedValue float64 `yaml:"expected_value"`

	// Threshold is the accepted distance from ExpectedValue.
	Threshold float64 `yaml:"threshold"`

	// Countdown is the number of measurement ticks before verification.
	Countdown int `yaml:"countdown"`

	// Retry reloads the countdown after a verification failure instead of
	// ending the cycle.
	Retry bool `yaml:"retry"`

	// RetryCountdown is the countdown used after a verification failure.
	RetryCountdown int `yaml:"retry_countdown"`

	// StartOnBoot starts an autocalibration cycle at daemon startup.
	StartOnBoot bool `yaml:"start_on_boot"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for measurement history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MQTTConfig contains MQTT broker connection settings for the egress bridge.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig tunes the auto-reconnect backoff (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT bearer token settings.
// Auth is optional: an empty secret disables the auth middleware, which is the
// normal mode on a trusted lab network.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WAVEMETER_SECTION_KEY
// For example: WAVEMETER_DATABASE_PATH, WAVEMETER_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults without reading a file.
// Used by tests and by the daemon when no config file exists.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Instrument: InstrumentConfig{
			NChannels:     8,
			SkipThreshold: 10.0,
			Simulated:     true,
		},
		Broadcast: BroadcastConfig{
			DeliveryTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3280,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Autocal: AutocalConfig{
			Threshold:      0.00005,
			Countdown:      600,
			RetryCountdown: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/wavemeter.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "wavemeterd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WAVEMETER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAVEMETER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WAVEMETER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("WAVEMETER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("WAVEMETER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WAVEMETER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WAVEMETER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("WAVEMETER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("WAVEMETER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Instrument.NChannels < 1 {
		errs = append(errs, "instrument.nchannels must be at least 1")
	}
	if c.Instrument.SkipThreshold < 0 {
		errs = append(errs, "instrument.skip_threshold must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Broadcast.DeliveryTimeout < 1 {
		errs = append(errs, "broadcast.delivery_timeout must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Command surface can reconfigure the laser; a weak secret on an exposed
	// network is worse than no auth on a trusted one, so require a real secret
	// whenever auth is enabled.
	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters when auth is enabled")
	}

	seen := make(map[string]bool, len(c.Locks))
	for i := range c.Locks {
		l := &c.Locks[i]
		if l.ID == "" {
			errs = append(errs, fmt.Sprintf("locks[%d].id is required", i))
		}
		if seen[l.ID] {
			errs = append(errs, fmt.Sprintf("locks[%d].id %q is duplicated", i, l.ID))
		}
		seen[l.ID] = true
		if l.Channel == "" {
			errs = append(errs, fmt.Sprintf("locks[%d].channel is required", i))
		}
		if l.Sink.OutputMax <= l.Sink.OutputMin {
			errs = append(errs, fmt.Sprintf("locks[%d].sink output_max must exceed output_min", i))
		}
		if l.MaxUpdateInterval <= 0 {
			l.MaxUpdateInterval = 10000
		}
	}

	if c.Autocal.Countdown < 1 {
		errs = append(errs, "autocal.countdown must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Timeout returns the broadcast delivery timeout as a Duration.
func (c *BroadcastConfig) Timeout() time.Duration {
	return time.Duration(c.DeliveryTimeout) * time.Second
}
