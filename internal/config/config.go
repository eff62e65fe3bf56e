// Package config loads the standalone cache demo's YAML configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the on-disk shape of a pagecache process configuration.
type Config struct {
	Cache struct {
		PageSize   int `mapstructure:"page_size"`
		FrameCount int `mapstructure:"frame_count"`
		BackoffMs  int `mapstructure:"backoff_ms"`
	} `mapstructure:"cache"`
	Data struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"data"`
}

// Load reads and unmarshals a YAML config file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("cache.page_size", 4096)
	v.SetDefault("cache.frame_count", 256)
	v.SetDefault("cache.backoff_ms", 1)
	v.SetDefault("data.dir", "./data")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
