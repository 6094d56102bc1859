// Package config loads a catalog node's configuration from a YAML file,
// with cobra flag overrides applied on top of the file's values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is one node's full runtime configuration.
type Config struct {
	NodeID      string        `yaml:"node_id"`
	BindAddr    string        `yaml:"bind_addr"`
	DataDir     string        `yaml:"data_dir"`
	Peers       []string      `yaml:"peers"`
	Election    Duration      `yaml:"election_timeout"`
	Heartbeat   Duration      `yaml:"heartbeat_timeout"`
	MaxSegment  SegmentConfig `yaml:"segment"`
	LogLevel    string        `yaml:"log_level"`
	LogJSON     bool          `yaml:"log_json"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// Duration wraps time.Duration so config files can spell timeouts as
// "150ms" rather than a raw nanosecond integer.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// SegmentConfig bounds one log segment's size, grounded on
// pkg/logstore.New's (maxSegmentSize, maxSegmentEntries) parameters.
type SegmentConfig struct {
	MaxSize    uint64 `yaml:"max_size"`
	MaxEntries uint32 `yaml:"max_entries"`
}

// Default returns a single-node configuration suitable for `catalogd
// start` with no config file: loopback addresses and a local data
// directory.
func Default() Config {
	return Config{
		NodeID:      "node-1",
		BindAddr:    "127.0.0.1:7600",
		DataDir:     "./catalog-data",
		Election:    Duration(150 * time.Millisecond),
		Heartbeat:   Duration(50 * time.Millisecond),
		MaxSegment:  SegmentConfig{MaxSize: 64 * 1024 * 1024, MaxEntries: 0},
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9090",
	}
}

// Load reads a YAML configuration file over Default(): fields the file
// does not mention keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that required fields are set.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id is required")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("config: bind_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	return nil
}
