package config

import (
	"testing"
	"time"
)

func TestDefaultPassesValidation(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateRejectsEmptyPortWindow(t *testing.T) {
	cfg := Default()
	cfg.PortWindowLow = 5000
	cfg.PortWindowHigh = 5000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for an empty port window")
	}
}

func TestValidateRejectsEmptyImageReference(t *testing.T) {
	cfg := Default()
	cfg.ImageReference = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty image reference")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/to/config.yaml")
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.ListenAddress != Default().ListenAddress {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MCPGATEWAY_LISTEN_ADDRESS", ":9999")
	t.Setenv("MCPGATEWAY_IDLE_TIMEOUT", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("expected env override of listen address, got %q", cfg.ListenAddress)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Fatalf("expected env override of idle timeout, got %v", cfg.IdleTimeout)
	}
}
