package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tailored-agentic-units/acp/store"
)

const (
	TransportSQLite = "sqlite"
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// Duration reads and writes time.Duration as a string such as "30s" in both
// JSON and TOML files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// TransportConfig selects and tunes the message transport.
type TransportConfig struct {
	Kind         string   `json:"kind,omitempty" toml:"kind"`
	SQLitePath   string   `json:"sqlite_path,omitempty" toml:"sqlite_path"`
	PollInterval Duration `json:"poll_interval,omitempty" toml:"poll_interval"`
	RedisURL     string   `json:"redis_url,omitempty" toml:"redis_url"`

	// GroupPrefix defaults to the agent id so every agent holds its own
	// cursor on the broadcast stream.
	GroupPrefix    string `json:"group_prefix,omitempty" toml:"group_prefix"`
	ConsumerPrefix string `json:"consumer_prefix,omitempty" toml:"consumer_prefix"`
	ConsumerName   string `json:"consumer_name,omitempty" toml:"consumer_name"`

	BlockTimeout     Duration `json:"block_timeout,omitempty" toml:"block_timeout"`
	BatchSize        int64    `json:"batch_size,omitempty" toml:"batch_size"`
	ReplayHistory    *bool    `json:"replay_history,omitempty" toml:"replay_history"`
	DeadLetter       *bool    `json:"dead_letter,omitempty" toml:"dead_letter"`
	DeadLetterSuffix string   `json:"dead_letter_suffix,omitempty" toml:"dead_letter_suffix"`
	ShutdownTimeout  Duration `json:"shutdown_timeout,omitempty" toml:"shutdown_timeout"`
}

func (c *TransportConfig) Merge(source *TransportConfig) {
	if source.Kind != "" {
		c.Kind = source.Kind
	}
	if source.SQLitePath != "" {
		c.SQLitePath = source.SQLitePath
	}
	if source.PollInterval > 0 {
		c.PollInterval = source.PollInterval
	}
	if source.RedisURL != "" {
		c.RedisURL = source.RedisURL
	}
	if source.GroupPrefix != "" {
		c.GroupPrefix = source.GroupPrefix
	}
	if source.ConsumerPrefix != "" {
		c.ConsumerPrefix = source.ConsumerPrefix
	}
	if source.ConsumerName != "" {
		c.ConsumerName = source.ConsumerName
	}
	if source.BlockTimeout > 0 {
		c.BlockTimeout = source.BlockTimeout
	}
	if source.BatchSize > 0 {
		c.BatchSize = source.BatchSize
	}
	if source.ReplayHistory != nil {
		c.ReplayHistory = source.ReplayHistory
	}
	if source.DeadLetter != nil {
		c.DeadLetter = source.DeadLetter
	}
	if source.DeadLetterSuffix != "" {
		c.DeadLetterSuffix = source.DeadLetterSuffix
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
}

// Config holds initialization parameters for one agent node.
type Config struct {
	AgentID          string          `json:"agent_id,omitempty" toml:"agent_id"`
	BroadcastTopic   string          `json:"broadcast_topic,omitempty" toml:"broadcast_topic"`
	RequestTimeout   Duration        `json:"request_timeout,omitempty" toml:"request_timeout"`
	AnnouncePresence *bool           `json:"announce_presence,omitempty" toml:"announce_presence"`
	Capabilities     []string        `json:"capabilities,omitempty" toml:"capabilities"`
	Transport        TransportConfig `json:"transport" toml:"transport"`
	Store            store.Config    `json:"store" toml:"store"`
	Observers        []string        `json:"observers,omitempty" toml:"observers"`
}

// DefaultConfig returns a Config for a single-host node on a SQLite stream
// file.
func DefaultConfig() Config {
	announce := true
	deadLetter := true
	return Config{
		BroadcastTopic:   "broadcast",
		RequestTimeout:   Duration(30 * time.Second),
		AnnouncePresence: &announce,
		Transport: TransportConfig{
			Kind:       TransportSQLite,
			SQLitePath: "acp.db",
			DeadLetter: &deadLetter,
		},
		Store: store.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.AgentID != "" {
		c.AgentID = source.AgentID
	}
	if source.BroadcastTopic != "" {
		c.BroadcastTopic = source.BroadcastTopic
	}
	if source.RequestTimeout > 0 {
		c.RequestTimeout = source.RequestTimeout
	}
	if source.AnnouncePresence != nil {
		c.AnnouncePresence = source.AnnouncePresence
	}
	if len(source.Capabilities) > 0 {
		c.Capabilities = source.Capabilities
	}
	if len(source.Observers) > 0 {
		c.Observers = source.Observers
	}
	c.Transport.Merge(&source.Transport)
	c.Store.Merge(&source.Store)
}

// Validate reports the first setting that prevents the node from starting.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidConfig)
	}
	if c.AgentID == c.BroadcastTopic {
		return fmt.Errorf("%w: agent_id must differ from broadcast topic %q", ErrInvalidConfig, c.BroadcastTopic)
	}
	switch c.Transport.Kind {
	case TransportSQLite:
		if c.Transport.SQLitePath == "" {
			return fmt.Errorf("%w: transport.sqlite_path is required", ErrInvalidConfig)
		}
	case TransportRedis:
		if c.Transport.RedisURL == "" {
			return fmt.Errorf("%w: transport.redis_url is required", ErrInvalidConfig)
		}
	case TransportMemory:
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrInvalidConfig, c.Transport.Kind)
	}
	return nil
}

// LoadConfig reads a JSON or TOML config file, chosen by extension, merges
// it with defaults, and returns the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	var loaded Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.DecodeFile(filename, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
