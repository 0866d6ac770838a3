package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
instrument:
  nchannels: 4
  skip_threshold: 10.0
  simulated: true
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 3280
locks:
  - id: "lock-ch1"
    channel: "ch1"
    kp: 0.5
    ki: 0.1
    setpoint: 500000.0
    sink:
      backend: "sim"
      output_min: 0.0
      output_max: 4095.0
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Instrument.NChannels != 4 {
		t.Errorf("Instrument.NChannels = %d, want 4", cfg.Instrument.NChannels)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	if len(cfg.Locks) != 1 || cfg.Locks[0].Channel != "ch1" {
		t.Errorf("Locks = %+v, want one lock on ch1", cfg.Locks)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
instrument:
  nchannels: 0
database:
  path: "/tmp/test.db"
api:
  port: 3280
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for zero nchannels, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero channels",
			mutate:  func(c *Config) { c.Instrument.NChannels = 0 },
			wantErr: true,
		},
		{
			name:    "negative skip threshold",
			mutate:  func(c *Config) { c.Instrument.SkipThreshold = -1 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "auth enabled with short secret",
			mutate:  func(c *Config) { c.Security.JWT = JWTConfig{Enabled: true, Secret: "short"} },
			wantErr: true,
		},
		{
			name: "auth enabled with proper secret",
			mutate: func(c *Config) {
				c.Security.JWT = JWTConfig{Enabled: true, Secret: "test-secret-key-at-least-32-chars!"}
			},
			wantErr: false,
		},
		{
			name: "lock without channel",
			mutate: func(c *Config) {
				c.Locks = []LockConfig{{ID: "lock-1", Sink: SinkConfig{OutputMax: 1}}}
			},
			wantErr: true,
		},
		{
			name: "lock with inverted output limits",
			mutate: func(c *Config) {
				c.Locks = []LockConfig{{ID: "lock-1", Channel: "ch1", Sink: SinkConfig{OutputMin: 5, OutputMax: 1}}}
			},
			wantErr: true,
		},
		{
			name: "duplicate lock IDs",
			mutate: func(c *Config) {
				c.Locks = []LockConfig{
					{ID: "lock-1", Channel: "ch1", Sink: SinkConfig{OutputMax: 1}},
					{ID: "lock-1", Channel: "ch2", Sink: SinkConfig{OutputMax: 1}},
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_DefaultsMaxUpdateInterval(t *testing.T) {
	cfg := defaultConfig()
	cfg.Locks = []LockConfig{{ID: "lock-1", Channel: "ch1", Sink: SinkConfig{OutputMax: 10}}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Locks[0].MaxUpdateInterval != 10000 {
		t.Errorf("MaxUpdateInterval = %d, want default 10000", cfg.Locks[0].MaxUpdateInterval)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("WAVEMETER_DATABASE_PATH", "/custom/path.db")
	t.Setenv("WAVEMETER_MQTT_HOST", "mqtt.example.com")
	t.Setenv("WAVEMETER_MQTT_USERNAME", "testuser")
	t.Setenv("WAVEMETER_MQTT_PASSWORD", "testpass")
	t.Setenv("WAVEMETER_API_HOST", "192.168.1.1")
	t.Setenv("WAVEMETER_API_PORT", "3290")
	t.Setenv("WAVEMETER_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("WAVEMETER_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.API.Port != 3290 {
		t.Errorf("API.Port = %d, want 3290", cfg.API.Port)
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Instrument.NChannels < 1 {
		t.Error("defaultConfig should have at least one instrument channel")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 3280 {
		t.Errorf("defaultConfig API.Port = %d, want 3280", cfg.API.Port)
	}
}
