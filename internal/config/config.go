// Package config loads the collector configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all collector configuration.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Command CommandConfig `yaml:"command"`
	Data    DataConfig    `yaml:"data"`
	Monitor MonitorConfig `yaml:"monitor"`
	History HistoryConfig `yaml:"history"`
}

// BusConfig selects the bus adapter link. When Host is set the TCP tunnel is
// used, otherwise the serial device.
type BusConfig struct {
	Device string `yaml:"device"` // e.g. /dev/ttyUSB0
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// CommandConfig configures the control port. Port 0 disables it.
type CommandConfig struct {
	Port int `yaml:"port"`
}

// DataConfig configures the telemetry broadcast port. Port 0 disables it.
type DataConfig struct {
	Port int `yaml:"port"`
}

// MonitorConfig configures the websocket monitor. An empty address disables
// it.
type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// HistoryConfig configures sensor value persistence. An empty path disables
// it.
type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Device: "/dev/ttyUSB0",
			Port:   2000,
		},
		Command: CommandConfig{Port: 7777},
		Data:    DataConfig{Port: 7778},
		History: HistoryConfig{RetentionDays: 30},
	}
}

// Load reads the config from a YAML file and applies environment variable
// overrides. Falls back to defaults when the file is absent.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: EMS_DEVICE, EMS_HOST, EMS_PORT, COMMAND_PORT, DATA_PORT,
// MONITOR_ADDR, HISTORY_PATH, HISTORY_RETENTION_DAYS.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMS_DEVICE"); v != "" {
		c.Bus.Device = v
	}
	if v := os.Getenv("EMS_HOST"); v != "" {
		c.Bus.Host = v
	}
	if v, ok := envInt("EMS_PORT"); ok {
		c.Bus.Port = v
	}
	if v, ok := envInt("COMMAND_PORT"); ok {
		c.Command.Port = v
	}
	if v, ok := envInt("DATA_PORT"); ok {
		c.Data.Port = v
	}
	if v := os.Getenv("MONITOR_ADDR"); v != "" {
		c.Monitor.ListenAddr = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v, ok := envInt("HISTORY_RETENTION_DAYS"); ok {
		c.History.RetentionDays = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate rejects configurations the collector cannot start with.
func (c *Config) Validate() error {
	if c.Bus.Device == "" && c.Bus.Host == "" {
		return fmt.Errorf("config: neither bus.device nor bus.host configured")
	}
	if c.Bus.Host != "" && (c.Bus.Port < 1 || c.Bus.Port > 65535) {
		return fmt.Errorf("config: bus.port %d out of range", c.Bus.Port)
	}
	if c.Command.Port < 0 || c.Command.Port > 65535 {
		return fmt.Errorf("config: command.port %d out of range", c.Command.Port)
	}
	if c.Data.Port < 0 || c.Data.Port > 65535 {
		return fmt.Errorf("config: data.port %d out of range", c.Data.Port)
	}
	return nil
}
