// Package config loads the pollchan demo configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Channel  ChannelConfig  `yaml:"channel"`
	Producer ProducerConfig `yaml:"producer"`
	Reactor  ReactorConfig  `yaml:"reactor"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ChannelConfig struct {
	// Capacity bounds the channel; 0 means unbounded.
	Capacity int `yaml:"capacity"`
}

type ProducerConfig struct {
	Count      int `yaml:"count"`
	IntervalMS int `yaml:"interval_ms"`
}

type ReactorConfig struct {
	EventsCapacity  int `yaml:"events_capacity"`
	StatsIntervalMS int `yaml:"stats_interval_ms"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info"},
		Channel:  ChannelConfig{Capacity: 0},
		Producer: ProducerConfig{Count: 2, IntervalMS: 1000},
		Reactor:  ReactorConfig{EventsCapacity: 1024, StatsIntervalMS: 5000},
	}
}

// Load reads configuration from file over the defaults. An empty path
// returns the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Channel.Capacity < 0 {
		return fmt.Errorf("channel.capacity must not be negative")
	}
	if c.Producer.Count < 0 {
		return fmt.Errorf("producer.count must not be negative")
	}
	if c.Producer.Count > 0 && c.Producer.IntervalMS <= 0 {
		return fmt.Errorf("producer.interval_ms must be positive")
	}
	if c.Reactor.EventsCapacity <= 0 {
		return fmt.Errorf("reactor.events_capacity must be positive")
	}
	if c.Reactor.StatsIntervalMS <= 0 {
		return fmt.Errorf("reactor.stats_interval_ms must be positive")
	}
	return nil
}

// Bounded reports whether the channel has a capacity.
func (c *ChannelConfig) Bounded() bool {
	return c.Capacity > 0
}

// GetInterval returns the producer interval as a duration
func (p *ProducerConfig) GetInterval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// GetStatsInterval returns the stats interval as a duration
func (r *ReactorConfig) GetStatsInterval() time.Duration {
	return time.Duration(r.StatsIntervalMS) * time.Millisecond
}
