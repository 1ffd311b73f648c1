package mesh

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks merge parameters and scanner definitions
func (c *Config) Validate() error {
	if c.Merge.Threshold < 0 {
		return fmt.Errorf("merge.threshold must not be negative, got %d", c.Merge.Threshold)
	}
	if c.Merge.Workers < 0 {
		return fmt.Errorf("merge.workers must be >= 0, got %d", c.Merge.Workers)
	}

	seen := make(map[int]bool, len(c.Scanners))
	for i, sc := range c.Scanners {
		if sc.ID < 0 {
			return fmt.Errorf("scanner[%d].id must be >= 0", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("scanner[%d].id %d is duplicated", i, sc.ID)
		}
		seen[sc.ID] = true
		if c.MQTT.Broker != "" && sc.Topic == "" {
			return fmt.Errorf("scanner[%d].topic is required for scanner %d when mqtt.broker is set", i, sc.ID)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// MergeOptions converts the merge section into engine options
func (c *Config) MergeOptions() []MergeOption {
	if c == nil {
		return nil
	}
	return []MergeOption{
		WithThreshold(c.Merge.Threshold),
		WithWorkers(c.Merge.Workers),
	}
}

// ScannerIDs returns the configured scanner ids in config order
func (c *Config) ScannerIDs() []int {
	ids := make([]int, len(c.Scanners))
	for i, sc := range c.Scanners {
		ids[i] = sc.ID
	}
	return ids
}
