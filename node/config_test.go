package node_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tailored-agentic-units/acp/node"
)

func TestDefaultConfig(t *testing.T) {
	cfg := node.DefaultConfig()

	if cfg.BroadcastTopic != "broadcast" {
		t.Errorf("got BroadcastTopic %q, want broadcast", cfg.BroadcastTopic)
	}
	if time.Duration(cfg.RequestTimeout) != 30*time.Second {
		t.Errorf("got RequestTimeout %v, want 30s", time.Duration(cfg.RequestTimeout))
	}
	if cfg.Transport.Kind != node.TransportSQLite {
		t.Errorf("got Transport.Kind %q, want sqlite", cfg.Transport.Kind)
	}
	if cfg.AnnouncePresence == nil || !*cfg.AnnouncePresence {
		t.Error("AnnouncePresence should default to true")
	}
	if cfg.Transport.DeadLetter == nil || !*cfg.Transport.DeadLetter {
		t.Error("Transport.DeadLetter should default to true")
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := node.DefaultConfig()
	off := false

	cfg.Merge(&node.Config{
		AgentID:          "planner",
		AnnouncePresence: &off,
		Transport: node.TransportConfig{
			Kind:      node.TransportRedis,
			RedisURL:  "redis://localhost:6379/0",
			BatchSize: 50,
		},
	})

	if cfg.AgentID != "planner" {
		t.Errorf("got AgentID %q, want planner", cfg.AgentID)
	}
	if *cfg.AnnouncePresence {
		t.Error("AnnouncePresence should be overridden to false")
	}
	if cfg.Transport.Kind != node.TransportRedis || cfg.Transport.BatchSize != 50 {
		t.Errorf("got Transport %+v", cfg.Transport)
	}
	if cfg.Transport.SQLitePath != "acp.db" {
		t.Errorf("got SQLitePath %q, want preserved default", cfg.Transport.SQLitePath)
	}
	if cfg.BroadcastTopic != "broadcast" {
		t.Errorf("got BroadcastTopic %q, want preserved default", cfg.BroadcastTopic)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*node.Config)
	}{
		{name: "missing agent id", modify: func(c *node.Config) { c.AgentID = "" }},
		{name: "agent id equals broadcast", modify: func(c *node.Config) { c.AgentID = "broadcast" }},
		{name: "sqlite without path", modify: func(c *node.Config) { c.Transport.SQLitePath = "" }},
		{name: "redis without url", modify: func(c *node.Config) { c.Transport.Kind = node.TransportRedis }},
		{name: "unknown transport", modify: func(c *node.Config) { c.Transport.Kind = "kafka" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := node.DefaultConfig()
			cfg.AgentID = "planner"
			tt.modify(&cfg)

			if err := cfg.Validate(); !errors.Is(err, node.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := node.DefaultConfig()
	cfg.AgentID = "planner"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on valid config error = %v", err)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	content := `{
		"agent_id": "planner",
		"request_timeout": "5s",
		"capabilities": ["sum"],
		"transport": {
			"kind": "sqlite",
			"sqlite_path": "/var/lib/acp/streams.db",
			"block_timeout": "250ms",
			"dead_letter": false
		},
		"store": {
			"driver": "sqlite",
			"path": "/var/lib/acp/objects.db"
		},
		"observers": ["slog"]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := node.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.AgentID != "planner" {
		t.Errorf("got AgentID %q, want planner", cfg.AgentID)
	}
	if time.Duration(cfg.RequestTimeout) != 5*time.Second {
		t.Errorf("got RequestTimeout %v, want 5s", time.Duration(cfg.RequestTimeout))
	}
	if time.Duration(cfg.Transport.BlockTimeout) != 250*time.Millisecond {
		t.Errorf("got BlockTimeout %v, want 250ms", time.Duration(cfg.Transport.BlockTimeout))
	}
	if cfg.Transport.SQLitePath != "/var/lib/acp/streams.db" {
		t.Errorf("got SQLitePath %q", cfg.Transport.SQLitePath)
	}
	if cfg.Transport.DeadLetter == nil || *cfg.Transport.DeadLetter {
		t.Error("dead_letter false should override the default")
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/var/lib/acp/objects.db" {
		t.Errorf("got Store %+v", cfg.Store)
	}
	if len(cfg.Observers) != 1 || cfg.Observers[0] != "slog" {
		t.Errorf("got Observers %v", cfg.Observers)
	}
	if cfg.BroadcastTopic != "broadcast" {
		t.Errorf("got BroadcastTopic %q, want default", cfg.BroadcastTopic)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	content := `
agent_id = "worker"
broadcast_topic = "all-agents"
request_timeout = "2s"
observers = ["slog", "noop"]

[transport]
kind = "redis"
redis_url = "redis://localhost:6379/0"
group_prefix = "worker-pool"
batch_size = 25
replay_history = true

[store]
path = "/tmp/objects"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := node.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.AgentID != "worker" || cfg.BroadcastTopic != "all-agents" {
		t.Errorf("got AgentID %q BroadcastTopic %q", cfg.AgentID, cfg.BroadcastTopic)
	}
	if time.Duration(cfg.RequestTimeout) != 2*time.Second {
		t.Errorf("got RequestTimeout %v, want 2s", time.Duration(cfg.RequestTimeout))
	}
	if cfg.Transport.Kind != node.TransportRedis || cfg.Transport.GroupPrefix != "worker-pool" {
		t.Errorf("got Transport %+v", cfg.Transport)
	}
	if cfg.Transport.BatchSize != 25 {
		t.Errorf("got BatchSize %d, want 25", cfg.Transport.BatchSize)
	}
	if cfg.Transport.ReplayHistory == nil || !*cfg.Transport.ReplayHistory {
		t.Error("replay_history should be true")
	}
	if cfg.Store.Path != "/tmp/objects" || cfg.Store.Driver != "file" {
		t.Errorf("got Store %+v", cfg.Store)
	}
	if len(cfg.Observers) != 2 {
		t.Errorf("got Observers %v", cfg.Observers)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := node.LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadConfig() of missing file succeeded")
	}

	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte(`request_timeout = "soon"`), 0o644)
	if _, err := node.LoadConfig(bad); err == nil {
		t.Error("LoadConfig() with invalid duration succeeded")
	}
}

func TestDuration_Text(t *testing.T) {
	d := node.Duration(1500 * time.Millisecond)

	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(text) != "1.5s" {
		t.Errorf("MarshalText() = %q, want 1.5s", text)
	}

	var parsed node.Duration
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if parsed != d {
		t.Errorf("UnmarshalText() = %v, want %v", parsed, d)
	}
}
