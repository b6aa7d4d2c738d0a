// Package config loads recorder settings from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// BPFObjectPath is the pre-built BPF object with the trigger
	// programs and maps.
	BPFObjectPath string `yaml:"bpf_object_path"`

	// DataDir holds the sqlite database and captured binaries.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the web API listen address.
	ListenAddr string `yaml:"listen_addr"`

	// SinkDepth is the event buffer between capture and consumer.
	// Capture never blocks on a full buffer; events are dropped.
	SinkDepth int `yaml:"sink_depth"`

	// SigmaRulesDir enables sigma detection when non-empty.
	SigmaRulesDir string `yaml:"sigma_rules_dir"`

	// BinaryCacheSize bounds the LRU of captured executable hashes.
	BinaryCacheSize int `yaml:"binary_cache_size"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BPFObjectPath:   "bpf/sentry.bpf.o",
		DataDir:         "data",
		ListenAddr:      ":8080",
		SinkDepth:       1000,
		BinaryCacheSize: 1024,
	}
}

// Load reads the YAML file at path and applies environment overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %v", path, err)
	}

	cfg.applyEnv()

	if cfg.SinkDepth <= 0 {
		return nil, fmt.Errorf("sink_depth must be positive, got %d", cfg.SinkDepth)
	}
	if cfg.BinaryCacheSize <= 0 {
		return nil, fmt.Errorf("binary_cache_size must be positive, got %d", cfg.BinaryCacheSize)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BPF_OBJECT_PATH"); v != "" {
		c.BPFObjectPath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("SIGMA_RULES_DIR"); v != "" {
		c.SigmaRulesDir = v
	}
	if v := os.Getenv("SINK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SinkDepth = n
		}
	}
}
