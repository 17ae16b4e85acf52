package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Collector.TablePrefix == "" {
		cfg.Collector.TablePrefix = "stats"
	}
	if cfg.Collector.LeaseTTL == 0 {
		cfg.Collector.LeaseTTL = 10 * time.Minute
	}
	if cfg.Collector.Interval == 0 {
		cfg.Collector.Interval = time.Hour
	}
	if len(cfg.Partitions) == 0 {
		cfg.Partitions = []PartitionConfig{{Name: "nba"}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
