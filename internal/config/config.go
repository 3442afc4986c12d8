// ABOUTME: Daemon configuration loaded from TOML
// ABOUTME: Applies defaults, validates values and exposes per-plugin blocks
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config holds resonated runtime configuration.
type Config struct {
	MusicDirectory string           `toml:"music_directory"`
	DBFile         string           `toml:"db_file"`
	LogFile        string           `toml:"log_file"`
	LogLevel       string           `toml:"log_level"`
	BufferChunks   int              `toml:"buffer_chunks"`
	UpdateWorkers  int              `toml:"update_workers"`
	Stream         StreamConfig     `toml:"stream"`
	Output         OutputConfig     `toml:"output"`
	Player         PlayerConfig     `toml:"player"`
	Decoder        map[string]Block `toml:"decoder"`
}

// StreamConfig controls the websocket stream server.
type StreamConfig struct {
	Port int    `toml:"port"`
	Name string `toml:"name"`
	MDNS *bool  `toml:"mdns"`
}

// OutputConfig controls the local audio device sink.
type OutputConfig struct {
	Enabled bool `toml:"enabled"`
}

// PlayerConfig controls the chunk consumer.
type PlayerConfig struct {
	Realtime *bool `toml:"realtime"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from disk. If path is empty the default location
// is used, and a missing default file yields the defaults.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	cfg := &Config{}
	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	case path == "" && errors.Is(err, fs.ErrNotExist):
		// no config file yet
	default:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "resonated", "config.toml"), nil
}

func stateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "resonated")
}

func applyDefaults(cfg *Config) {
	if cfg.MusicDirectory == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.MusicDirectory = filepath.Join(home, "Music")
		}
	}
	if cfg.DBFile == "" {
		cfg.DBFile = filepath.Join(stateDir(), "catalog.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.BufferChunks == 0 {
		cfg.BufferChunks = 512
	}
	if cfg.UpdateWorkers == 0 {
		cfg.UpdateWorkers = 4
	}
	if cfg.Stream.Port == 0 {
		cfg.Stream.Port = 8927
	}
	if cfg.Stream.Name == "" {
		cfg.Stream.Name = "resonated"
	}
	if cfg.Stream.MDNS == nil {
		on := true
		cfg.Stream.MDNS = &on
	}
	if cfg.Player.Realtime == nil {
		on := true
		cfg.Player.Realtime = &on
	}
	if cfg.Decoder == nil {
		cfg.Decoder = map[string]Block{}
	}
}

// Validate checks values that defaults cannot repair.
func Validate(cfg *Config) error {
	if cfg.BufferChunks < 2 {
		return fmt.Errorf("buffer_chunks must be at least 2, got %d", cfg.BufferChunks)
	}
	if cfg.UpdateWorkers < 1 {
		return fmt.Errorf("update_workers must be positive, got %d", cfg.UpdateWorkers)
	}
	if cfg.Stream.Port < 0 || cfg.Stream.Port > 65535 {
		return fmt.Errorf("stream.port out of range: %d", cfg.Stream.Port)
	}
	return nil
}

// DecoderBlock returns the settings for one plugin, never nil.
func (c *Config) DecoderBlock(name string) Block {
	if b, ok := c.Decoder[name]; ok && b != nil {
		return b
	}
	return Block{}
}
