package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/infrastructure/config"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("WAVEMETER_CONFIG")
	defer os.Setenv("WAVEMETER_CONFIG", originalEnv)

	os.Setenv("WAVEMETER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestGetConfigPath verifies config path resolution.
func TestGetConfigPath(t *testing.T) {
	originalEnv := os.Getenv("WAVEMETER_CONFIG")
	defer os.Setenv("WAVEMETER_CONFIG", originalEnv)

	os.Unsetenv("WAVEMETER_CONFIG")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	os.Setenv("WAVEMETER_CONFIG", "/etc/wavemeter/config.yaml")
	if got := getConfigPath(); got != "/etc/wavemeter/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

// TestBuildSink verifies sink backend selection.
func TestBuildSink(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{"default is sim", "", false},
		{"explicit sim", "sim", false},
		{"unknown backend", "dac9000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := buildSink(config.SinkConfig{
				Backend:   tt.backend,
				OutputMin: -10,
				OutputMax: 10,
				AuxMin:    -10,
				AuxMax:    10,
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if min, max := sink.Limits(); min != -10 || max != 10 {
				t.Errorf("Limits() = (%v, %v), want (-10, 10)", min, max)
			}
		})
	}
}
