package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Command.Port != 7777 || cfg.Data.Port != 7778 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
bus:
  host: emsgw.local
  port: 2001
command:
  port: 9000
data:
  port: 0
monitor:
  listen_addr: ":8080"
history:
  path: /var/lib/ems/history.db
  retention_days: 7
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Bus.Host != "emsgw.local" || cfg.Bus.Port != 2001 {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if cfg.Command.Port != 9000 {
		t.Errorf("command.port = %d, want 9000", cfg.Command.Port)
	}
	if cfg.Data.Port != 0 {
		t.Errorf("data.port = %d, want 0 (disabled)", cfg.Data.Port)
	}
	if cfg.Monitor.ListenAddr != ":8080" {
		t.Errorf("monitor.listen_addr = %q", cfg.Monitor.ListenAddr)
	}
	if cfg.History.Path == "" || cfg.History.RetentionDays != 7 {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMS_HOST", "10.0.0.9")
	t.Setenv("COMMAND_PORT", "7070")

	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Bus.Host != "10.0.0.9" {
		t.Errorf("bus.host = %q, want env override", cfg.Bus.Host)
	}
	if cfg.Command.Port != 7070 {
		t.Errorf("command.port = %d, want 7070", cfg.Command.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"no transport", func(c *Config) { c.Bus.Device = ""; c.Bus.Host = "" }, true},
		{"bad bus port", func(c *Config) { c.Bus.Host = "x"; c.Bus.Port = 0 }, true},
		{"bad command port", func(c *Config) { c.Command.Port = 70000 }, true},
		{"disabled ports ok", func(c *Config) { c.Command.Port = 0; c.Data.Port = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
