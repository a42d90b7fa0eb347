// Package config loads the gateway's configuration from a YAML file
// overlaid with environment variables, in the teacher's style of plain
// structs decoded with gopkg.in/yaml.v3 (spec.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's full runtime configuration (spec.md §6).
type Config struct {
	ListenAddress    string        `yaml:"listen_address"`
	ImageReference   string        `yaml:"image_reference"`
	ContainerPort    int           `yaml:"container_port"`
	MemoryLimitBytes int64         `yaml:"memory_limit_bytes"`
	CPUShares        float64       `yaml:"cpu_shares"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PortWindowLow     int           `yaml:"port_window_low"`
	PortWindowHigh    int           `yaml:"port_window_high"`
	CredentialHeader  string        `yaml:"credential_header"`
	OracleEndpoint    string        `yaml:"oracle_endpoint"`
	MetricsAddress    string        `yaml:"metrics_address"`
	BridgeListenAddress string      `yaml:"bridge_listen_address"`
}

// Default returns spec.md §6's default configuration.
func Default() Config {
	return Config{
		ListenAddress:       "0.0.0.0:8000",
		ImageReference:      "ghcr.io/vortiago/mcp-outline:latest",
		ContainerPort:       3000,
		MemoryLimitBytes:    256 * 1024 * 1024,
		CPUShares:           0.3,
		IdleTimeout:         900 * time.Second,
		SweepInterval:       60 * time.Second,
		RequestTimeout:      90 * time.Second,
		PortWindowLow:       4000,
		PortWindowHigh:      5000,
		CredentialHeader:    "X-Outline-API-Key",
		OracleEndpoint:      "https://app.getoutline.com/api/auth.info",
		MetricsAddress:      ":9090",
		BridgeListenAddress: "",
	}
}

// Load reads a YAML file at path (if non-empty and it exists) over the
// defaults, then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants a Config must satisfy before use; Load calls
// it before returning.
func (c Config) Validate() error {
	if c.PortWindowLow >= c.PortWindowHigh {
		return fmt.Errorf("port_window_low (%d) must be less than port_window_high (%d)", c.PortWindowLow, c.PortWindowHigh)
	}
	if c.ImageReference == "" {
		return fmt.Errorf("image_reference must not be empty")
	}
	return nil
}

func applyEnv(cfg *Config) {
	str(&cfg.ListenAddress, "MCPGATEWAY_LISTEN_ADDRESS")
	str(&cfg.ImageReference, "MCPGATEWAY_IMAGE_REFERENCE")
	integer(&cfg.ContainerPort, "MCPGATEWAY_CONTAINER_PORT")
	integer64(&cfg.MemoryLimitBytes, "MCPGATEWAY_MEMORY_LIMIT_BYTES")
	duration(&cfg.IdleTimeout, "MCPGATEWAY_IDLE_TIMEOUT")
	duration(&cfg.SweepInterval, "MCPGATEWAY_SWEEP_INTERVAL")
	duration(&cfg.RequestTimeout, "MCPGATEWAY_REQUEST_TIMEOUT")
	integer(&cfg.PortWindowLow, "MCPGATEWAY_PORT_WINDOW_LOW")
	integer(&cfg.PortWindowHigh, "MCPGATEWAY_PORT_WINDOW_HIGH")
	str(&cfg.CredentialHeader, "MCPGATEWAY_CREDENTIAL_HEADER")
	str(&cfg.OracleEndpoint, "MCPGATEWAY_ORACLE_ENDPOINT")
	str(&cfg.MetricsAddress, "MCPGATEWAY_METRICS_ADDRESS")
	str(&cfg.BridgeListenAddress, "MCPGATEWAY_BRIDGE_LISTEN_ADDRESS")
}

func str(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func integer(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func integer64(dst *int64, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func duration(dst *time.Duration, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
