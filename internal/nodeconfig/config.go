// Package nodeconfig decodes the node's JSON configuration file: client
// identity, bind address, speed limit, and cache/data directories.
package nodeconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the on-disk shape of the node's configuration file.
type Config struct {
	LogLevel     string `json:"log_level"`
	ID           uint32 `json:"id"`
	Key          string `json:"key"`
	Bind         string `json:"bind"`
	SpeedLimit   uint64 `json:"speedlimit"`
	CacheDir     string `json:"cache_dir"`
	DataDir      string `json:"data_dir"`
	MaxCacheSize uint64 `json:"max_cache_size"`
}

// LoadFromFile reads and decodes the JSON config file at filename.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the fields the node cannot start without.
func (c *Config) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("nodeconfig: id is required")
	}
	if c.Key == "" {
		return fmt.Errorf("nodeconfig: key is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("nodeconfig: cache_dir is required")
	}
	if c.MaxCacheSize == 0 {
		return fmt.Errorf("nodeconfig: max_cache_size must be nonzero")
	}
	if c.Bind == "" {
		c.Bind = ":443"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}
