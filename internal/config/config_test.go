package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8000 {
			t.Errorf("Load() port = %v, want 8000", cfg.Server.Port)
		}
		if cfg.Relay.MaxRetries != 5 || cfg.Relay.RetryDelay != 10*time.Second {
			t.Errorf("Load() relay = %+v, want 5 retries every 10s", cfg.Relay)
		}
		if cfg.Sessions.Backend != "dynamodb" || cfg.Sessions.Table != "LguWorkagentSessions" {
			t.Errorf("Load() sessions = %+v", cfg.Sessions)
		}
		if cfg.Sessions.TTL != 24*time.Hour {
			t.Errorf("Load() ttl = %v, want 24h", cfg.Sessions.TTL)
		}
		if cfg.Reports.Prefix != "reports/" {
			t.Errorf("Load() prefix = %q", cfg.Reports.Prefix)
		}
	})

	t.Run("env var overrides", func(t *testing.T) {
		t.Setenv("RELAY_SERVER__PORT", "9000")
		t.Setenv("RELAY_AGENT__ALIAS_ID", "ALIAS2")
		t.Setenv("RELAY_RELAY__RETRY_DELAY", "250ms")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.Agent.AliasID != "ALIAS2" {
			t.Errorf("Load() alias = %q, want ALIAS2", cfg.Agent.AliasID)
		}
		if cfg.Relay.RetryDelay != 250*time.Millisecond {
			t.Errorf("Load() retry delay = %v, want 250ms", cfg.Relay.RetryDelay)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relay.yaml")
		yaml := `
agent:
  id: ${TEST_AGENT_ID}
  alias_id: ALIAS
reports:
  bucket: report-bucket
sessions:
  backend: sqlite
  sqlite_path: /tmp/sessions.db
server:
  port: 7000
`
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("RELAY_CONFIG", path)
		t.Setenv("TEST_AGENT_ID", "AGENT1")
		t.Setenv("RELAY_SERVER__PORT", "7100")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Agent.ID != "AGENT1" {
			t.Errorf("Load() agent id = %q, want substituted AGENT1", cfg.Agent.ID)
		}
		if cfg.Sessions.Backend != "sqlite" || cfg.Sessions.SQLitePath != "/tmp/sessions.db" {
			t.Errorf("Load() sessions = %+v", cfg.Sessions)
		}
		if cfg.Server.Port != 7100 {
			t.Errorf("Load() port = %v, want env override 7100", cfg.Server.Port)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("malformed config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("RELAY_CONFIG", path)

		if _, err := Load(); err == nil {
			t.Error("Load() expected error for malformed file")
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Agent:    AgentConfig{ID: "A", AliasID: "B"},
			Reports:  ReportsConfig{Bucket: "bucket"},
			Sessions: SessionsConfig{Backend: "dynamodb", Table: "t"},
			Relay:    RelayConfig{MaxRetries: 5},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing agent", func(c *Config) { c.Agent.ID = "" }, "agent.id"},
		{"missing alias", func(c *Config) { c.Agent.AliasID = "" }, "agent.alias_id"},
		{"missing bucket", func(c *Config) { c.Reports.Bucket = "" }, "reports.bucket"},
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "redis" }, "sessions.backend"},
		{"no retries", func(c *Config) { c.Relay.MaxRetries = 0 }, "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	cfg := ServerConfig{AllowedOrigins: " https://a.example, https://b.example ,"}
	got := cfg.Origins()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Origins() = %v", got)
	}
}

func TestAgentRegion(t *testing.T) {
	cfg := &Config{AWS: AWSConfig{Region: "us-east-1"}}
	if got := cfg.AgentRegion(); got != "us-east-1" {
		t.Errorf("AgentRegion() = %q", got)
	}
	cfg.Agent.Region = "ap-northeast-2"
	if got := cfg.AgentRegion(); got != "ap-northeast-2" {
		t.Errorf("AgentRegion() = %q", got)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
