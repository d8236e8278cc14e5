package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrokerConfig is one statically configured destination broker.
type BrokerConfig struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Config carries the injected settings of the marker fan-out layer. Broker
// ids, addresses and the poll interval are configuration, never parsed from
// request traffic.
type Config struct {
	PollIntervalMS            int            `json:"poll_interval_ms"`
	SendTimeoutMS             int            `json:"send_timeout_ms"`
	MaxQueuedMarkersPerBroker int            `json:"max_queued_markers_per_broker"`
	MetricsPort               int            `json:"metrics_port"`
	EnableExporter            bool           `json:"enable_exporter"`
	Brokers                   []BrokerConfig `json:"brokers"`
}

func defaultConfig() *Config {
	return &Config{
		PollIntervalMS:            100,
		SendTimeoutMS:             5000,
		MaxQueuedMarkersPerBroker: 65536,
		MetricsPort:               9095,
		EnableExporter:            true,
	}
}

// LoadConfig builds the configuration from defaults, an optional JSON file
// named by TXNMARKER_CONFIG, and scalar environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("TXNMARKER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := overrideInt("TXNMARKER_POLL_INTERVAL_MS", &cfg.PollIntervalMS); err != nil {
		return nil, err
	}
	if err := overrideInt("TXNMARKER_SEND_TIMEOUT_MS", &cfg.SendTimeoutMS); err != nil {
		return nil, err
	}
	if err := overrideInt("TXNMARKER_MAX_QUEUED_PER_BROKER", &cfg.MaxQueuedMarkersPerBroker); err != nil {
		return nil, err
	}
	if err := overrideInt("TXNMARKER_METRICS_PORT", &cfg.MetricsPort); err != nil {
		return nil, err
	}
	if v := os.Getenv("TXNMARKER_BROKERS"); v != "" {
		brokers, err := parseBrokers(v)
		if err != nil {
			return nil, err
		}
		cfg.Brokers = brokers
	}

	if cfg.PollIntervalMS <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %d", cfg.PollIntervalMS)
	}
	if cfg.SendTimeoutMS <= 0 {
		return nil, fmt.Errorf("send timeout must be positive, got %d", cfg.SendTimeoutMS)
	}
	return cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

func overrideInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

// parseBrokers parses "1@host1:9092,2@host2:9092".
func parseBrokers(spec string) ([]BrokerConfig, error) {
	var brokers []BrokerConfig
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idAddr := strings.SplitN(part, "@", 2)
		if len(idAddr) != 2 {
			return nil, fmt.Errorf("invalid broker spec %q, want id@host:port", part)
		}
		id, err := strconv.ParseInt(idAddr[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid broker id in %q: %w", part, err)
		}
		hostPort := strings.SplitN(idAddr[1], ":", 2)
		if len(hostPort) != 2 {
			return nil, fmt.Errorf("invalid broker address in %q, want host:port", part)
		}
		port, err := strconv.Atoi(hostPort[1])
		if err != nil {
			return nil, fmt.Errorf("invalid broker port in %q: %w", part, err)
		}
		brokers = append(brokers, BrokerConfig{ID: int32(id), Host: hostPort[0], Port: port})
	}
	return brokers, nil
}
