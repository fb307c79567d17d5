package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
instance:
  id: gateway-1
  title: Intake Call Form
hub:
  token_url: https://hub.test/api/token
  api_key: secret-key
bus:
  addr: localhost:6379
health:
  port: 9090
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "gateway-1" {
		t.Errorf("Instance.ID = %q", cfg.Instance.ID)
	}
	if cfg.Instance.Title != "Intake Call Form" {
		t.Errorf("Instance.Title = %q", cfg.Instance.Title)
	}
	if cfg.Hub.TokenURL != "https://hub.test/api/token" {
		t.Errorf("Hub.TokenURL = %q", cfg.Hub.TokenURL)
	}
	if cfg.Health.Port != 9090 {
		t.Errorf("Health.Port = %d", cfg.Health.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "instance: [unclosed")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Fatalf("error = %v, want yaml parse error", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_HUB_KEY", "expanded-key")

	path := writeConfig(t, `
instance:
  id: gateway-1
  title: Intake
hub:
  token_url: https://hub.test/api/token
  api_key: ${TEST_HUB_KEY}
bus:
  addr: localhost:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Hub.APIKey != "expanded-key" {
		t.Errorf("Hub.APIKey = %q, want expanded env var", cfg.Hub.APIKey)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Hub.Timeout != DefaultHubTimeout {
		t.Errorf("Hub.Timeout = %s, want default %s", cfg.Hub.Timeout, DefaultHubTimeout)
	}
	if cfg.Connection.MaxStartAttempts != DefaultMaxStartAttempts {
		t.Errorf("Connection.MaxStartAttempts = %d", cfg.Connection.MaxStartAttempts)
	}
	if cfg.Connection.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Connection.ReconnectMaxDelay = %s", cfg.Connection.ReconnectMaxDelay)
	}
	if cfg.Bus.Channel != DefaultBusChannel {
		t.Errorf("Bus.Channel = %q", cfg.Bus.Channel)
	}
	if cfg.Database.Journal.Port != DefaultDBPort {
		t.Errorf("Database.Journal.Port = %d", cfg.Database.Journal.Port)
	}
	if cfg.Session.ProbeInterval != DefaultProbeInterval {
		t.Errorf("Session.ProbeInterval = %s", cfg.Session.ProbeInterval)
	}
	if cfg.Health.Path != DefaultHealthPath {
		t.Errorf("Health.Path = %q", cfg.Health.Path)
	}
	// Explicit value survives defaulting.
	if cfg.Health.Port != 9090 {
		t.Errorf("Health.Port = %d, want explicit 9090", cfg.Health.Port)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, validYAML)
	if _, err := LoadAndValidate(path); err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *GatewayConfig {
		cfg := &GatewayConfig{
			Instance: InstanceConfig{ID: "gw", Title: "Intake"},
			Hub:      HubConfig{TokenURL: "https://hub.test/token"},
			Bus:      BusConfig{Addr: "localhost:6379"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *GatewayConfig) {},
		},
		{
			name:    "missing instance id",
			mutate:  func(c *GatewayConfig) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "missing instance title",
			mutate:  func(c *GatewayConfig) { c.Instance.Title = "" },
			wantErr: "instance.title",
		},
		{
			name:    "missing token url",
			mutate:  func(c *GatewayConfig) { c.Hub.TokenURL = "" },
			wantErr: "hub.token_url",
		},
		{
			name:    "missing bus addr",
			mutate:  func(c *GatewayConfig) { c.Bus.Addr = "" },
			wantErr: "bus.addr",
		},
		{
			name: "base delay exceeds max",
			mutate: func(c *GatewayConfig) {
				c.Connection.ReconnectBaseDelay = time.Minute
				c.Connection.ReconnectMaxDelay = time.Second
			},
			wantErr: "reconnect_base_delay",
		},
		{
			name:    "bad health port",
			mutate:  func(c *GatewayConfig) { c.Health.Port = 70000 },
			wantErr: "health.port",
		},
		{
			name:    "journal enabled without database",
			mutate:  func(c *GatewayConfig) { c.Journal.Enabled = true },
			wantErr: "database.journal.host",
		},
		{
			name: "journal enabled with database",
			mutate: func(c *GatewayConfig) {
				c.Journal.Enabled = true
				c.Database.Journal.Host = "localhost"
				c.Database.Journal.Name = "callstream"
				c.Database.Journal.User = "writer"
				c.Database.Journal.Password = "pw"
			},
		},
		{
			name: "min conns exceed max",
			mutate: func(c *GatewayConfig) {
				c.Journal.Enabled = true
				c.Database.Journal.Host = "localhost"
				c.Database.Journal.Name = "callstream"
				c.Database.Journal.User = "writer"
				c.Database.Journal.Password = "pw"
				c.Database.Journal.MinConns = 20
				c.Database.Journal.MaxConns = 5
			},
			wantErr: "min_conns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JournalDisabledSkipsDatabase(t *testing.T) {
	cfg := &GatewayConfig{
		Instance: InstanceConfig{ID: "gw", Title: "Intake"},
		Hub:      HubConfig{TokenURL: "https://hub.test/token"},
		Bus:      BusConfig{Addr: "localhost:6379"},
	}
	cfg.applyDefaults()

	// No database settings at all: fine while the journal stays off.
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil with journal disabled", err)
	}
}
